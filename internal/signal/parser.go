package signal

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Parser converts one channel's message format into a Signal.
// TryParse returns nil for anything that is not a signal; parsers never
// panic on malformed input.
type Parser interface {
	Name() string
	TryParse(text string) *Signal
}

// Dispatcher tries registered parsers in registration order and returns the
// first hit.
type Dispatcher struct {
	parsers []Parser
}

// NewDispatcher builds a dispatcher over the given parsers, kept in order.
func NewDispatcher(parsers ...Parser) *Dispatcher {
	return &Dispatcher{parsers: parsers}
}

// Register appends a parser to the dispatch order.
func (d *Dispatcher) Register(p Parser) {
	d.parsers = append(d.parsers, p)
}

// Parse dispatches raw text to the first matching parser. It stamps the
// resulting Signal with an id, the channel and the receive time. A nil
// return means the message is not a signal.
func (d *Dispatcher) Parse(text, channel string) *Signal {
	for _, p := range d.parsers {
		s := p.TryParse(text)
		if s == nil {
			continue
		}
		if !s.TargetsMonotonic() {
			log.Debug().
				Str("parser", p.Name()).
				Str("channel", channel).
				Msg("targets not monotonic, treating as non-signal")
			return nil
		}
		s.ID = uuid.New().String()
		s.Channel = channel
		s.ReceivedAt = time.Now()
		log.Debug().
			Str("parser", p.Name()).
			Str("symbol", s.Symbol).
			Str("direction", string(s.Direction)).
			Int("targets", len(s.Targets)).
			Msg("signal parsed")
		return s
	}
	log.Debug().Str("channel", channel).Msg("message did not match any parser")
	return nil
}
