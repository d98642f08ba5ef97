// Package journal records the player's lifecycle phases and recoverable
// errors, persisted in a bolt database so they survive restarts.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// Phase names what the player was doing when an event was recorded.
type Phase string

const (
	PhaseBooting          Phase = "booting"
	PhaseAwaitingSchedule Phase = "awaiting_schedule"
	PhaseCacheFallback    Phase = "cache_fallback"
	PhaseInitialDownload  Phase = "initial_download"
	PhaseStartingPlayback Phase = "starting_playback"
	PhaseRunning          Phase = "running"
	PhaseSyncing          Phase = "syncing"
	PhaseScheduledSwitch  Phase = "scheduled_switch"
	PhaseRotationSwitch   Phase = "rotation_switch"
	PhaseIdleSwitch       Phase = "idle_switch"
	PhaseStopping         Phase = "stopping"
	PhaseStopped          Phase = "stopped"
)

// DefaultLimit bounds the number of retained events.
const DefaultLimit = 500

var bucketEvents = []byte("events")

// Event is one journal entry.
type Event struct {
	ID      string    `json:"id"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Phase   Phase     `json:"phase"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

// Journal keeps the most recent events in memory and, when opened with a
// path, in a bolt bucket keyed by sequence number.
type Journal struct {
	db     *bolt.DB
	limit  int
	logger zerolog.Logger

	mu      sync.RWMutex
	events  []Event
	phase   Phase
	lastErr *Event
	seq     uint64
}

// Open loads or creates the journal at path. An empty path keeps events in
// memory only.
func Open(path string, limit int, logger zerolog.Logger) (*Journal, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	j := &Journal{
		limit:  limit,
		logger: logger.With().Str("component", "journal").Logger(),
	}
	if path == "" {
		return j, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketEvents)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return nil
			}
			j.remember(ev)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load journal: %w", err)
	}

	j.db = db
	return j, nil
}

// Record appends an event and makes phase current. A nil err records a plain
// transition.
func (j *Journal) Record(phase Phase, message string, err error) Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	ev := Event{
		ID:      uuid.NewString(),
		Seq:     j.seq + 1,
		Time:    time.Now().UTC(),
		Phase:   phase,
		Message: message,
	}
	if err != nil {
		ev.Error = err.Error()
	}

	if j.db != nil {
		if perr := j.persist(&ev); perr != nil {
			j.logger.Warn().Err(perr).Msg("persist journal event")
		}
	}
	j.remember(ev)
	return ev
}

func (j *Journal) persist(ev *Event) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if seq > ev.Seq {
			ev.Seq = seq
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(ev.Seq), data); err != nil {
			return err
		}
		return trim(b, j.limit)
	})
}

func trim(b *bolt.Bucket, limit int) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	if len(keys) <= limit {
		return nil
	}
	for _, k := range keys[:len(keys)-limit] {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// remember must be called with mu held, or before the journal is shared.
func (j *Journal) remember(ev Event) {
	j.events = append(j.events, ev)
	if over := len(j.events) - j.limit; over > 0 {
		j.events = append([]Event(nil), j.events[over:]...)
	}
	if ev.Seq > j.seq {
		j.seq = ev.Seq
	}
	j.phase = ev.Phase
	if ev.Error != "" {
		last := ev
		j.lastErr = &last
	}
}

// Phase returns the phase of the latest event.
func (j *Journal) Phase() Phase {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.phase
}

// Recent returns up to n of the latest events, oldest first. n <= 0 returns all.
func (j *Journal) Recent(n int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	start := 0
	if n > 0 && len(j.events) > n {
		start = len(j.events) - n
	}
	return append([]Event(nil), j.events[start:]...)
}

// LastError returns the latest event that carried an error.
func (j *Journal) LastError() (Event, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.lastErr == nil {
		return Event{}, false
	}
	return *j.lastErr, true
}

// Close releases the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
