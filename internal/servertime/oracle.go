// Package servertime tracks how far the local clock is from the signage
// server and answers which timed entry is due.
package servertime

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pi-signage/internal/models"
)

// ServerDateTimeLayout is the layout of the schedule's serverDateTime field.
const ServerDateTimeLayout = "2006-01-02 15:04"

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ComputeDeviation returns server time minus local time. The server timestamp
// is interpreted in now's location.
func ComputeDeviation(serverDateTime string, now time.Time) (time.Duration, error) {
	value := strings.TrimSpace(serverDateTime)
	server, err := time.ParseInLocation(ServerDateTimeLayout, value, now.Location())
	if err != nil {
		return 0, fmt.Errorf("%w: server date time %q", models.ErrParse, serverDateTime)
	}
	return server.Sub(now), nil
}

// FindActiveEntry returns the first timed entry whose window contains at.
// Both bounds are inclusive. Entries with a malformed window are skipped and
// reported through the returned error, which may accompany a match.
func FindActiveEntry(timed []models.MediaEntry, at models.ClockTime) (models.MediaEntry, bool, error) {
	var errs []error
	for _, entry := range timed {
		start, end, err := entry.Window()
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %q: %w", entry.FileName, err))
			continue
		}
		if start <= at && at <= end {
			return entry, true, errors.Join(errs...)
		}
	}
	return models.MediaEntry{}, false, errors.Join(errs...)
}

// Oracle holds the clock deviation measured at the last accepted schedule.
type Oracle struct {
	clock  Clock
	logger zerolog.Logger

	mu        sync.RWMutex
	deviation time.Duration
	lastErr   error
	reported  map[string]struct{}
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *Oracle) { o.clock = c }
}

// NewOracle creates an Oracle with zero deviation.
func NewOracle(logger zerolog.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		clock:    realClock{},
		logger:   logger.With().Str("component", "time_oracle").Logger(),
		reported: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Accept recomputes the deviation from a schedule's server timestamp. On
// error the previous deviation is kept.
func (o *Oracle) Accept(serverDateTime string) error {
	deviation, err := ComputeDeviation(serverDateTime, o.clock.Now())

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.lastErr = err
		o.logger.Warn().Err(err).Dur("deviation", o.deviation).Msg("keeping stale clock deviation")
		return err
	}
	o.deviation = deviation
	o.lastErr = nil
	o.logger.Info().Dur("deviation", deviation).Msg("clock deviation updated")
	return nil
}

// Deviation returns the current server-minus-local offset.
func (o *Oracle) Deviation() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.deviation
}

// LastError returns the error of the last failed Accept, if it was not
// followed by a successful one.
func (o *Oracle) LastError() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastErr
}

// ServerNow approximates the server's current instant.
func (o *Oracle) ServerNow() time.Time {
	return o.clock.Now().Add(o.Deviation())
}

// CurrentServerTime returns the server's current time of day.
func (o *Oracle) CurrentServerTime() models.ClockTime {
	return models.ClockTimeOf(o.ServerNow())
}

// ActiveEntry returns the timed entry due at the current server time.
// Malformed entries are logged once per distinct problem.
func (o *Oracle) ActiveEntry(timed []models.MediaEntry) (models.MediaEntry, bool) {
	entry, ok, err := FindActiveEntry(timed, o.CurrentServerTime())
	if err != nil {
		o.report(err)
	}
	return entry, ok
}

func (o *Oracle) report(err error) {
	key := err.Error()
	o.mu.Lock()
	_, seen := o.reported[key]
	if !seen {
		o.reported[key] = struct{}{}
	}
	o.mu.Unlock()
	if !seen {
		o.logger.Warn().Err(err).Msg("ignoring malformed timed entries")
	}
}
