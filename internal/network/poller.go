package network

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pi-signage/internal/metrics"
	"pi-signage/internal/models"
)

// ScheduleFetcher retrieves the schedule for a device identity.
type ScheduleFetcher interface {
	FetchSchedule(ctx context.Context, id Identity) (models.Schedule, error)
}

// State is the lifecycle position of a Poller.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// PollerConfig holds the poll loop settings. LocalIP defaults to LocalIP.
type PollerConfig struct {
	Interval   time.Duration
	MACAddress string
	LocalIP    func() (string, error)
}

// Poller repeatedly fetches the schedule in its own goroutine and keeps the
// latest successful response.
type Poller struct {
	fetcher  ScheduleFetcher
	interval time.Duration
	mac      string
	localIP  func() (string, error)
	logger   zerolog.Logger
	updates  chan struct{}

	mu           sync.Mutex
	cond         *sync.Cond
	state        State
	serverActive bool
	latest       models.Schedule
	hasLatest    bool
	lastErr      error
	cancel       context.CancelFunc

	wg sync.WaitGroup
}

// NewPoller creates an idle poller.
func NewPoller(fetcher ScheduleFetcher, cfg PollerConfig, logger zerolog.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	localIP := cfg.LocalIP
	if localIP == nil {
		localIP = LocalIP
	}
	p := &Poller{
		fetcher:  fetcher,
		interval: interval,
		mac:      cfg.MACAddress,
		localIP:  localIP,
		logger:   logger.With().Str("component", "poll_loop").Logger(),
		updates:  make(chan struct{}, 1),
		state:    StateIdle,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// CheckOnce runs a single poll cycle.
func (p *Poller) CheckOnce(ctx context.Context) error {
	ip, err := p.localIP()
	if err != nil {
		p.recordFailure(err)
		return err
	}

	sched, err := p.fetcher.FetchSchedule(ctx, Identity{IPAddress: ip, MACAddress: p.mac})
	if err != nil {
		p.recordFailure(err)
		return err
	}

	p.mu.Lock()
	wasActive := p.serverActive
	p.serverActive = true
	p.latest = sched.Clone()
	p.hasLatest = true
	p.lastErr = nil
	p.mu.Unlock()

	metrics.RecordPoll(true)
	if !wasActive {
		p.logger.Info().Str("ip", ip).Msg("schedule server reachable")
	}

	select {
	case p.updates <- struct{}{}:
	default:
	}
	return nil
}

func (p *Poller) recordFailure(err error) {
	p.mu.Lock()
	wasActive := p.serverActive
	p.serverActive = false
	p.lastErr = err
	p.mu.Unlock()

	metrics.RecordPoll(false)
	if !models.IsRetryable(err) {
		p.logger.Warn().Err(err).Msg("unexpected schedule response")
	} else if wasActive {
		p.logger.Warn().Err(err).Msg("schedule server lost")
	} else {
		p.logger.Debug().Err(err).Msg("poll failed")
	}
}

// Start launches the poll goroutine. It is a no-op unless the poller is idle.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StatePolling
	p.wg.Add(1)
	p.mu.Unlock()

	stopWake := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})

	go func() {
		defer p.wg.Done()
		defer stopWake()
		p.run(ctx)
	}()
	p.logger.Info().Dur("interval", p.interval).Msg("poll loop started")
}

func (p *Poller) run(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
	}()

	for {
		if !p.waitWhilePaused(ctx) {
			return
		}

		// A fetch already on the wire completes even if Stop arrives.
		_ = p.CheckOnce(context.WithoutCancel(ctx))

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) waitWhilePaused(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state == StatePaused && ctx.Err() == nil {
		p.cond.Wait()
	}
	return ctx.Err() == nil && p.state == StatePolling
}

// Pause suspends polling after the current cycle.
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePolling {
		p.state = StatePaused
		p.logger.Debug().Msg("poll loop paused")
	}
}

// Resume wakes a paused poller.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused {
		p.state = StatePolling
		p.cond.Broadcast()
		p.logger.Debug().Msg("poll loop resumed")
	}
}

// Stop ends the poll loop and waits for its goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	wasRunning := p.state == StatePolling || p.state == StatePaused
	p.state = StateStopped
	if p.cancel != nil {
		p.cancel()
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	if wasRunning {
		p.logger.Info().Msg("poll loop stopped")
	}
}

// Updates signals after every successful poll. Signals coalesce.
func (p *Poller) Updates() <-chan struct{} {
	return p.updates
}

// ServerActive reports whether the last poll reached the server.
func (p *Poller) ServerActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serverActive
}

// Latest returns a copy of the last schedule the server returned.
func (p *Poller) Latest() (models.Schedule, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest.Clone(), p.hasLatest
}

// LastError returns the error of the last failed poll, cleared on success.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// State returns the poller's lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
