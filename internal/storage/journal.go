package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"signal-bot/internal/exchange"

	"go.etcd.io/bbolt"
)

const (
	signalsBucket = "signals" // Raw messages with their parse outcome
	eventsBucket  = "events"  // Order updates from the user-data stream
)

// Journal is the append-only BoltDB log of raw channel messages and venue
// order events, kept for post-mortem of parse misses and fill sequencing.
type Journal struct {
	db *bbolt.DB
}

// SignalEntry is one journaled channel message.
type SignalEntry struct {
	Channel  string    `json:"channel"`
	Raw      string    `json:"raw"`
	Parsed   bool      `json:"parsed"`
	SignalID string    `json:"signalId,omitempty"`
	Ts       time.Time `json:"ts"`
}

// EventEntry is one journaled order update.
type EventEntry struct {
	Update exchange.OrderUpdate `json:"update"`
	Ts     time.Time            `json:"ts"`
}

// NewJournal opens (or creates) the journal database under dir.
func NewJournal(dir string) (*Journal, error) {
	dbPath := filepath.Join(dir, "signalbot.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(signalsBucket)); err != nil {
			return fmt.Errorf("create signals bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(eventsBucket)); err != nil {
			return fmt.Errorf("create events bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// LogSignal records a raw message and whether any parser matched it.
func (j *Journal) LogSignal(entry SignalEntry) error {
	if entry.Ts.IsZero() {
		entry.Ts = time.Now()
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(signalsBucket))
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal signal entry: %w", err)
		}
		key := fmt.Sprintf("%s_%d", entry.Channel, entry.Ts.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// LogEvent records one order update from the stream.
func (j *Journal) LogEvent(u exchange.OrderUpdate) error {
	entry := EventEntry{Update: u, Ts: time.Now()}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal event entry: %w", err)
		}
		key := fmt.Sprintf("%s_%d", u.Symbol, entry.Ts.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// SignalsFor returns the journaled messages for one channel in key order.
func (j *Journal) SignalsFor(channel string) ([]SignalEntry, error) {
	var out []SignalEntry
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(signalsBucket)).Cursor()
		prefix := []byte(channel + "_")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var entry SignalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // Skip malformed records
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

func hasPrefix(data, prefix []byte) bool {
	return bytes.HasPrefix(data, prefix)
}
