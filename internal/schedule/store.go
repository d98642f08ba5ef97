package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"pi-signage/internal/models"
)

// Store owns the cached schedule backed by a single JSON file on disk. It
// keeps the current snapshot and the one it replaced.
type Store struct {
	file   string
	logger zerolog.Logger

	mu       sync.RWMutex
	current  models.Schedule
	previous models.Schedule
}

// NewStore creates a Store for the given cache file. Nothing is read until Load.
func NewStore(file string, logger zerolog.Logger) *Store {
	return &Store{
		file:   filepath.Clean(file),
		logger: logger.With().Str("component", "schedule_store").Logger(),
	}
}

// Path returns the cache file location.
func (s *Store) Path() string {
	return s.file
}

// Load reads the cached schedule and makes it current.
func (s *Store) Load() (models.Schedule, error) {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%w: read %s: %v", models.ErrIO, s.file, err)
	}

	var sched models.Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return models.Schedule{}, fmt.Errorf("%w: decode %s: %v", models.ErrParse, s.file, err)
	}

	s.swap(sched)
	s.logger.Info().Int("entries", len(sched.MediaFiles)).Str("file", s.file).Msg("loaded cached schedule")
	return sched.Clone(), nil
}

// Save durably replaces the cache file with sched and makes it current.
func (s *Store) Save(sched models.Schedule) error {
	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("%w: encode schedule: %v", models.ErrIO, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("%w: create cache dir: %v", models.ErrIO, err)
	}

	pending, err := renameio.NewPendingFile(s.file, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("%w: create pending cache file: %v", models.ErrIO, err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending cache file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("%w: write cache: %v", models.ErrIO, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: replace cache: %v", models.ErrIO, err)
	}

	s.swap(sched)
	s.logger.Info().Int("entries", len(sched.MediaFiles)).Msg("cached schedule saved")
	return nil
}

// Current returns a copy of the current schedule.
func (s *Store) Current() models.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Previous returns a copy of the schedule Current replaced.
func (s *Store) Previous() models.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous.Clone()
}

func (s *Store) swap(sched models.Schedule) {
	clone := sched.Clone()
	s.mu.Lock()
	s.previous = s.current
	s.current = clone
	s.mu.Unlock()
}
