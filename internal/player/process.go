// Package player runs an external command-line video player, one process per
// file, and reports when a file finishes on its own.
package player

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Config selects the player command. An empty Command means auto-detect.
type Config struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// candidates lists the players tried in order when none is configured, with
// the flags that make them fullscreen and exit at end of file.
var candidates = []Config{
	{Command: "mpv", Args: []string{"--fs", "--no-terminal", "--really-quiet", "--image-display-duration=10"}},
	{Command: "cvlc", Args: []string{"--fullscreen", "--play-and-exit", "--no-video-title-show", "--image-duration=10"}},
	{Command: "omxplayer", Args: []string{"-b", "--no-osd"}},
}

// ErrNoPlayer is returned by Detect when no usable player binary is found.
var ErrNoPlayer = errors.New("no media player found")

// Detect resolves cfg to an executable. A configured command must exist on
// PATH; otherwise the first installed candidate wins.
func Detect(cfg Config) (Config, error) {
	if cfg.Command != "" {
		path, err := exec.LookPath(cfg.Command)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrNoPlayer, cfg.Command, err)
		}
		return Config{Command: path, Args: append([]string(nil), cfg.Args...)}, nil
	}
	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate.Command); err == nil {
			return Config{Command: path, Args: append([]string(nil), candidate.Args...)}, nil
		}
	}
	return Config{}, ErrNoPlayer
}

// Process plays files by launching Command with Args followed by the path.
type Process struct {
	command string
	args    []string
	logger  zerolog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	exited    chan struct{}
	current   string
	startedAt time.Time
	paused    bool

	wg sync.WaitGroup
}

// New returns a Process for an already detected configuration.
func New(cfg Config, logger zerolog.Logger) *Process {
	return &Process{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		logger:  logger.With().Str("component", "player").Str("command", cfg.Command).Logger(),
	}
}

// Play stops whatever is running and launches the player for path. onEnd,
// when non-nil, runs once if this play exits on its own; a play that is
// stopped or replaced never calls it.
func (p *Process) Play(path string, onEnd func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.stopLocked()

	args := append(append([]string(nil), p.args...), path)
	cmd := exec.Command(p.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}

	exited := make(chan struct{})
	p.cmd = cmd
	p.exited = exited
	p.current = path
	p.startedAt = time.Now()
	p.paused = false

	p.wg.Add(1)
	go p.wait(cmd, path, exited, onEnd)

	p.logger.Debug().Str("file", path).Int("pid", cmd.Process.Pid).Msg("player started")
	return nil
}

func (p *Process) wait(cmd *exec.Cmd, path string, exited chan struct{}, onEnd func()) {
	defer p.wg.Done()
	err := cmd.Wait()
	close(exited)

	p.mu.Lock()
	natural := p.cmd == cmd
	if natural {
		p.cmd = nil
		p.exited = nil
		p.current = ""
		p.paused = false
	}
	p.mu.Unlock()

	if !natural {
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("file", path).Msg("player exited with error")
	}
	if onEnd != nil {
		onEnd()
	}
}

// Stop kills the running player, if any, and waits for it to exit.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Process) stopLocked() error {
	if p.cmd == nil {
		return nil
	}
	cmd, exited := p.cmd, p.exited
	p.cmd = nil
	p.exited = nil
	p.current = ""

	if p.paused {
		_ = cmd.Process.Signal(unix.SIGCONT)
		p.paused = false
	}
	var err error
	if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		err = fmt.Errorf("kill player: %w", killErr)
	}
	<-exited
	return err
}

// Pause toggles between suspended and running.
func (p *Process) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}

	sig := unix.SIGSTOP
	if p.paused {
		sig = unix.SIGCONT
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("signal player: %w", err)
	}
	p.paused = !p.paused
	return nil
}

// Current returns the file being played, or "".
func (p *Process) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// AiredFor reports how long the current file has been on screen.
func (p *Process) AiredFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" {
		return 0
	}
	return time.Since(p.startedAt)
}

// Close stops playback and waits for every player process to be reaped.
func (p *Process) Close() error {
	err := p.Stop()
	p.wg.Wait()
	return err
}
