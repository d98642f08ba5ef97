// Package playback decides which file the screen shows and reacts to
// end-of-media events from the player.
package playback

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"pi-signage/internal/metrics"
	"pi-signage/internal/models"
)

// Player is the video surface the controller drives. onEnd is invoked from
// the player's own goroutine when that play finishes naturally, and never
// for a play that was stopped or replaced.
type Player interface {
	Play(path string, onEnd func()) error
	Stop() error
	Pause() error
	Current() string
}

const endQueueSize = 8

// endEvent identifies one play by its generation so a late event from an
// earlier play of the same path cannot advance the current one.
type endEvent struct {
	path string
	gen  uint64
}

// Controller owns the playback state: the current file, the active mode and
// the rotation cursor.
type Controller struct {
	player Player
	logger zerolog.Logger
	ends   chan endEvent

	mu         sync.Mutex
	mode       models.PlaybackMode
	current    string
	scheduled  string
	rotation   []string
	index      int
	endReached bool
	gen        uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewController starts the goroutine that consumes end events.
func NewController(player Player, logger zerolog.Logger) *Controller {
	c := &Controller{
		player:     player,
		logger:     logger.With().Str("component", "playback").Logger(),
		ends:       make(chan endEvent, endQueueSize),
		mode:       models.ModeIdle,
		endReached: true,
		done:       make(chan struct{}),
	}

	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *Controller) notifyEnd(ev endEvent) {
	select {
	case c.ends <- ev:
	case <-c.done:
	default:
		c.logger.Warn().Str("file", ev.path).Msg("end event queue full, dropping")
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.ends:
			c.handleEnd(ev)
		}
	}
}

func (c *Controller) handleEnd(ev endEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.gen != c.gen || c.current == "" {
		c.logger.Debug().Str("file", ev.path).Str("current", c.current).Msg("ignoring stale end event")
		return
	}
	c.endReached = true

	switch c.mode {
	case models.ModeRotation:
		if len(c.rotation) == 0 {
			_ = c.stopLocked()
			return
		}
		c.index = (c.index + 1) % len(c.rotation)
		if err := c.playRotationLocked(); err != nil {
			c.logger.Warn().Err(err).Msg("rotation halted")
		}
	case models.ModeScheduled:
		if err := c.playLocked(c.scheduled); err != nil {
			c.logger.Warn().Err(err).Str("file", c.scheduled).Msg("replaying scheduled media")
			_ = c.stopLocked()
		}
	}
}

// PlaySingle plays path without changing the playback mode. A missing file
// leaves the state untouched.
func (c *Controller) PlaySingle(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playLocked(path)
}

// PlayScheduled switches to scheduled mode and loops path until told otherwise.
func (c *Controller) PlayScheduled(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.playLocked(path); err != nil {
		return err
	}
	c.scheduled = path
	c.setModeLocked(models.ModeScheduled)
	c.logger.Info().Str("file", path).Msg("playing scheduled media")
	return nil
}

// StartRotation switches to rotation mode over list. The cursor keeps its
// position, wrapped to the new list length. Missing files are skipped; when
// none of them exist the controller goes idle and returns ErrFileNotFound.
func (c *Controller) StartRotation(list []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotation = append([]string(nil), list...)
	if len(c.rotation) == 0 {
		c.index = 0
		_ = c.stopLocked()
		return nil
	}
	c.index %= len(c.rotation)
	c.scheduled = ""

	if err := c.playRotationLocked(); err != nil {
		return err
	}
	c.setModeLocked(models.ModeRotation)
	c.logger.Info().Int("files", len(c.rotation)).Int("index", c.index).Msg("rotation started")
	return nil
}

// Stop halts playback and returns to idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// Pause toggles the player's pause state.
func (c *Controller) Pause() error {
	return c.player.Pause()
}

// State returns a snapshot of the playback state.
func (c *Controller) State() models.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.PlaybackState{
		CurrentMedia:  c.current,
		Mode:          c.mode,
		RotationIndex: c.index,
		EndReached:    c.endReached,
	}
}

// Mode returns the active playback mode.
func (c *Controller) Mode() models.PlaybackMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// CurrentMedia returns the path on screen, or "" when idle.
func (c *Controller) CurrentMedia() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ScheduledMedia returns the file looped in scheduled mode.
func (c *Controller) ScheduledMedia() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled
}

// Close stops playback and the end-event goroutine.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.Stop()
		close(c.done)
		c.wg.Wait()
	})
	return err
}

func (c *Controller) playLocked(path string) error {
	if _, err := os.Stat(path); err != nil {
		c.logger.Warn().Str("file", path).Msg("media file does not exist yet")
		return fmt.Errorf("%w: %s", models.ErrFileNotFound, path)
	}

	if c.current != "" && !c.endReached {
		if err := c.player.Stop(); err != nil {
			c.logger.Warn().Err(err).Str("file", c.current).Msg("stop before play")
		}
	}

	c.gen++
	ev := endEvent{path: path, gen: c.gen}
	if err := c.player.Play(path, func() { c.notifyEnd(ev) }); err != nil {
		c.current = ""
		_ = c.stopLocked()
		return fmt.Errorf("play %s: %w", path, err)
	}
	c.current = path
	c.endReached = false
	return nil
}

// playRotationLocked plays the file under the cursor, skipping forward past
// files that are missing or fail to start.
func (c *Controller) playRotationLocked() error {
	var errs []error
	for range c.rotation {
		err := c.playLocked(c.rotation[c.index])
		if err == nil {
			c.setModeLocked(models.ModeRotation)
			return nil
		}
		errs = append(errs, err)
		c.index = (c.index + 1) % len(c.rotation)
	}
	_ = c.stopLocked()
	return errors.Join(errs...)
}

func (c *Controller) stopLocked() error {
	var err error
	if c.current != "" {
		err = c.player.Stop()
	}
	c.current = ""
	c.scheduled = ""
	c.endReached = true
	c.setModeLocked(models.ModeIdle)
	return err
}

func (c *Controller) setModeLocked(mode models.PlaybackMode) {
	if c.mode == mode {
		return
	}
	c.logger.Debug().Str("from", string(c.mode)).Str("to", string(mode)).Msg("playback mode changed")
	c.mode = mode
	metrics.RecordPlaybackSwitch(string(mode))
}
