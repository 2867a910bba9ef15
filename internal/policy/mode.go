package policy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Mode is the system-wide operating mode.
type Mode int32

const (
	ModeAutomatic Mode = iota
	ModeMonitorOnly
	ModePaused
	ModeEmergencyStop
)

func (m Mode) String() string {
	switch m {
	case ModeAutomatic:
		return "Automatic"
	case ModeMonitorOnly:
		return "MonitorOnly"
	case ModePaused:
		return "Paused"
	case ModeEmergencyStop:
		return "EmergencyStop"
	}
	return fmt.Sprintf("Mode(%d)", int32(m))
}

// ParseMode converts a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "Automatic", "":
		return ModeAutomatic, nil
	case "MonitorOnly":
		return ModeMonitorOnly, nil
	case "Paused":
		return ModePaused, nil
	case "EmergencyStop":
		return ModeEmergencyStop, nil
	}
	return ModeAutomatic, fmt.Errorf("unknown operating mode %q", s)
}

// BotController holds the operating mode behind an atomic word. Mode-change
// subscribers run synchronously on the caller's goroutine, after the new
// mode is visible.
type BotController struct {
	mode        atomic.Int32
	lastChanged atomic.Int64 // Unix nanos

	mu       sync.Mutex
	onChange []func(old, cur Mode)
}

// NewBotController starts in the given mode.
func NewBotController(initial Mode) *BotController {
	b := &BotController{}
	b.mode.Store(int32(initial))
	b.lastChanged.Store(time.Now().UnixNano())
	return b
}

// Mode returns the current operating mode.
func (b *BotController) Mode() Mode {
	return Mode(b.mode.Load())
}

// LastChanged returns when the mode last changed.
func (b *BotController) LastChanged() time.Time {
	return time.Unix(0, b.lastChanged.Load())
}

// CanAcceptNewSignals gates signal intake.
func (b *BotController) CanAcceptNewSignals() bool {
	return b.Mode() == ModeAutomatic
}

// CanManagePositions gates automatic reactions to exchange events.
func (b *BotController) CanManagePositions() bool {
	m := b.Mode()
	return m == ModeAutomatic || m == ModeMonitorOnly
}

// SetMode switches the operating mode and fires registered hooks.
func (b *BotController) SetMode(m Mode) {
	old := Mode(b.mode.Swap(int32(m)))
	if old == m {
		return
	}
	b.lastChanged.Store(time.Now().UnixNano())
	log.Info().
		Str("from", old.String()).
		Str("to", m.String()).
		Msg("operating mode changed")

	b.mu.Lock()
	hooks := append([]func(old, cur Mode){}, b.onChange...)
	b.mu.Unlock()
	for _, h := range hooks {
		h(old, m)
	}
}

// OnModeChange registers a hook fired on every mode transition.
func (b *BotController) OnModeChange(h func(old, cur Mode)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, h)
}
