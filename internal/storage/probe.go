// Package storage reports free space on the filesystem holding the media
// directory.
package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Probe measures the space available to unprivileged writers under Dir.
type Probe struct {
	Dir string
}

// NewProbe returns a probe for dir. The directory is created if missing so the
// first statfs call has something to inspect.
func NewProbe(dir string) (*Probe, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Probe{Dir: dir}, nil
}

// Available returns the bytes available in the filesystem backing Dir.
func (p *Probe) Available() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(p.Dir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", p.Dir, err)
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
