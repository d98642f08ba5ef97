// Package orchestrator sequences boot, initial download and the steady-state
// control loop that keeps playback in line with the schedule.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"pi-signage/internal/journal"
	"pi-signage/internal/metrics"
	"pi-signage/internal/models"
	"pi-signage/internal/schedule"
	"pi-signage/internal/servertime"
	"pi-signage/internal/syncer"
)

// Poller is the background schedule poll loop.
type Poller interface {
	CheckOnce(ctx context.Context) error
	Start(ctx context.Context)
	Pause()
	Resume()
	Stop()
	ServerActive() bool
	Latest() (models.Schedule, bool)
	Updates() <-chan struct{}
}

// Playback drives the screen.
type Playback interface {
	PlaySingle(path string) error
	PlayScheduled(path string) error
	StartRotation(list []string) error
	Stop() error
	Mode() models.PlaybackMode
	ScheduledMedia() string
}

// Syncer brings the media directory in line with a schedule.
type Syncer interface {
	Apply(ctx context.Context, plan syncer.SyncPlan) (syncer.Result, error)
	DownloadAll(ctx context.Context, sched models.Schedule, kind models.ListKind) (syncer.Result, error)
}

// Config holds the orchestrator's timing and file settings.
type Config struct {
	MediaDir          string
	SplashFile        string
	StartupRetries    int
	RetryDelay        time.Duration
	EvaluateInterval  time.Duration
	SyncRetryInterval time.Duration
}

// Deps are the components the orchestrator coordinates.
type Deps struct {
	Store    *schedule.Store
	Oracle   *servertime.Oracle
	Syncer   Syncer
	Poller   Poller
	Playback Playback
	Journal  *journal.Journal
}

// Orchestrator owns the control loop. Everything below is touched only by
// the goroutine running Run.
type Orchestrator struct {
	cfg      Config
	store    *schedule.Store
	oracle   *servertime.Oracle
	syncer   Syncer
	poller   Poller
	playback Playback
	journal  *journal.Journal
	logger   zerolog.Logger
	now      func() time.Time

	accepted  models.Schedule
	stamp     string
	partition schedule.Partitioned

	failed   models.Schedule
	failedAt time.Time
	hasFail  bool

	missingScheduled string
	unplayable       string
	unplayableAt     time.Time
	rotationBlocked  bool
}

// New builds an orchestrator. Zero config values fall back to sensible defaults.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.StartupRetries <= 0 {
		cfg.StartupRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.EvaluateInterval <= 0 {
		cfg.EvaluateInterval = 500 * time.Millisecond
	}
	if cfg.SyncRetryInterval <= 0 {
		cfg.SyncRetryInterval = time.Minute
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    deps.Store,
		oracle:   deps.Oracle,
		syncer:   deps.Syncer,
		poller:   deps.Poller,
		playback: deps.Playback,
		journal:  deps.Journal,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}
}

// Run boots the player and drives it until ctx is cancelled. It only returns
// an error when no schedule could be obtained before cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.journal.Record(journal.PhaseBooting, "player starting", nil)
	o.playSplash()

	sched, err := o.Bootstrap(ctx)
	if err != nil {
		o.shutdown()
		return err
	}

	o.prime(ctx, sched)

	o.journal.Record(journal.PhaseStartingPlayback, "starting playback", nil)
	o.evaluate()

	o.poller.Start(ctx)
	o.journal.Record(journal.PhaseRunning, "control loop running", nil)

	ticker := time.NewTicker(o.cfg.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
		case <-o.poller.Updates():
		}
		o.resync(ctx)
		o.evaluate()
	}
}

func (o *Orchestrator) playSplash() {
	if o.cfg.SplashFile == "" {
		return
	}
	if err := o.playback.PlaySingle(o.cfg.SplashFile); err != nil {
		o.logger.Warn().Err(err).Str("file", o.cfg.SplashFile).Msg("splash clip unavailable")
	}
}

// Bootstrap obtains the first non-empty schedule. It tries the server
// StartupRetries times, then the cache, and repeats until one succeeds or ctx
// ends. A schedule fetched from the server is written to the cache.
func (o *Orchestrator) Bootstrap(ctx context.Context) (models.Schedule, error) {
	o.journal.Record(journal.PhaseAwaitingSchedule, "waiting for a schedule", nil)

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return models.Schedule{}, err
		}

		if attempts >= o.cfg.StartupRetries {
			attempts = 0
			sched, err := o.store.Load()
			switch {
			case err != nil:
				o.journal.Record(journal.PhaseCacheFallback, "cached schedule unavailable", err)
			case sched.IsEmpty():
				o.journal.Record(journal.PhaseCacheFallback, "cached schedule is empty", nil)
			default:
				o.journal.Record(journal.PhaseCacheFallback, "using cached schedule", nil)
				return sched, nil
			}
		} else {
			attempts++
			if err := o.poller.CheckOnce(ctx); err != nil {
				o.journal.Record(journal.PhaseAwaitingSchedule, "schedule server unavailable", err)
			} else if sched, ok := o.poller.Latest(); ok && !sched.IsEmpty() {
				if err := o.store.Save(sched); err != nil {
					o.journal.Record(journal.PhaseAwaitingSchedule, "could not cache schedule", err)
				}
				return sched, nil
			}
		}

		timer := time.NewTimer(o.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.Schedule{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// prime accepts the boot schedule and fetches anything missing. The media
// directory is not wiped; files already present are kept.
func (o *Orchestrator) prime(ctx context.Context, sched models.Schedule) {
	o.accept(sched)
	o.accepted = sched.Clone()
	o.partition = schedule.Partition(sched, o.cfg.MediaDir)

	o.journal.Record(journal.PhaseInitialDownload, "downloading schedule media", nil)
	if _, err := o.syncer.DownloadAll(ctx, sched, models.ListAll); err != nil {
		o.journal.Record(journal.PhaseInitialDownload, "initial download incomplete", err)
	}
}

// accept recomputes the clock deviation from sched's server timestamp.
func (o *Orchestrator) accept(sched models.Schedule) {
	o.stamp = sched.ServerDateTime
	if err := o.oracle.Accept(sched.ServerDateTime); err != nil {
		o.journal.Record(o.journal.Phase(), "server time rejected", err)
		return
	}
	metrics.SetClockDeviation(o.oracle.Deviation())
}

// resync refreshes the clock deviation whenever a new server timestamp
// arrives and applies the latest server schedule when its media list differs
// from the accepted one.
func (o *Orchestrator) resync(ctx context.Context) {
	if !o.poller.ServerActive() {
		return
	}
	latest, ok := o.poller.Latest()
	if !ok || latest.IsEmpty() {
		return
	}
	if latest.ServerDateTime != o.stamp {
		o.accept(latest)
	}
	if latest.SameMedia(o.accepted) {
		return
	}
	if o.hasFail && latest.SameMedia(o.failed) && o.now().Sub(o.failedAt) < o.cfg.SyncRetryInterval {
		return
	}

	o.journal.Record(journal.PhaseSyncing, "schedule changed", nil)
	if err := o.playback.Stop(); err != nil {
		o.logger.Warn().Err(err).Msg("stop playback before sync")
	}
	o.poller.Pause()
	defer o.poller.Resume()

	plan, err := syncer.Reconcile(latest, o.accepted, o.cfg.MediaDir)
	if err != nil {
		o.markFailed(latest, "reconcile failed", err)
		return
	}

	result, err := o.syncer.Apply(ctx, plan)
	if err != nil {
		o.markFailed(latest, "sync aborted", err)
		return
	}

	o.hasFail = false
	o.accepted = plan.Accepted
	o.partition = result.Partition
	o.missingScheduled = ""
	o.unplayable = ""
	o.rotationBlocked = false

	o.journal.Record(journal.PhaseSyncing, "schedule applied", nil)
}

func (o *Orchestrator) markFailed(latest models.Schedule, message string, err error) {
	o.failed = latest.Clone()
	o.failedAt = o.now()
	o.hasFail = true
	o.rotationBlocked = false
	o.journal.Record(journal.PhaseSyncing, message, err)
}

// evaluate switches playback to whatever should be on screen now: the due
// scheduled entry, otherwise the rotation, otherwise nothing.
func (o *Orchestrator) evaluate() {
	if entry, due := o.oracle.ActiveEntry(o.partition.Timed); due {
		target := filepath.Join(o.cfg.MediaDir, entry.FileName)
		if o.playback.Mode() == models.ModeScheduled && o.playback.ScheduledMedia() == target {
			return
		}
		if o.scheduledAvailable(target) && !o.recentlyUnplayable(target) {
			err := o.playback.PlayScheduled(target)
			if err == nil {
				o.unplayable = ""
				o.rotationBlocked = false
				o.journal.Record(journal.PhaseScheduledSwitch, "playing "+entry.FileName, nil)
				return
			}
			o.unplayable, o.unplayableAt = target, o.now()
			o.rotationBlocked = false
			o.journal.Record(journal.PhaseScheduledSwitch, "scheduled media failed", err)
		}
	} else {
		o.missingScheduled = ""
	}

	if len(o.partition.Rotation) == 0 {
		if o.playback.Mode() != models.ModeIdle {
			if err := o.playback.Stop(); err != nil {
				o.logger.Warn().Err(err).Msg("stop playback")
			}
			o.journal.Record(journal.PhaseIdleSwitch, "nothing to play", nil)
		}
		return
	}

	if o.playback.Mode() == models.ModeRotation || o.rotationBlocked {
		return
	}
	if err := o.playback.StartRotation(o.partition.Rotation); err != nil {
		o.rotationBlocked = true
		o.journal.Record(journal.PhaseIdleSwitch, "rotation media unavailable", err)
		return
	}
	o.journal.Record(journal.PhaseRotationSwitch, "playing rotation", nil)
}

// recentlyUnplayable reports whether the player failed on target less than
// SyncRetryInterval ago.
func (o *Orchestrator) recentlyUnplayable(target string) bool {
	return o.unplayable == target && o.now().Sub(o.unplayableAt) < o.cfg.SyncRetryInterval
}

// scheduledAvailable reports whether target exists, journaling a missing
// file once per target.
func (o *Orchestrator) scheduledAvailable(target string) bool {
	_, err := os.Stat(target)
	if err == nil {
		o.missingScheduled = ""
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn().Err(err).Str("file", target).Msg("stat scheduled media")
	}
	if o.missingScheduled != target {
		o.missingScheduled = target
		o.journal.Record(journal.PhaseRotationSwitch, "scheduled media missing, falling back to rotation", models.ErrFileNotFound)
	}
	return false
}

func (o *Orchestrator) shutdown() {
	o.journal.Record(journal.PhaseStopping, "stopping", nil)
	o.poller.Stop()
	if err := o.playback.Stop(); err != nil {
		o.logger.Warn().Err(err).Msg("stop playback")
	}
	o.journal.Record(journal.PhaseStopped, "stopped", nil)
}
