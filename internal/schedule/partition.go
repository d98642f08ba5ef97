package schedule

import (
	"path/filepath"

	"pi-signage/internal/models"
)

// Partitioned splits a schedule into the entries eligible for time-window
// playback and the file paths played in rotation.
type Partitioned struct {
	Timed    []models.MediaEntry
	Rotation []string
}

// Partition derives the timed and rotation lists from sched. Rotation entries
// are resolved against mediaDir; timed entries keep their raw fields. The
// result is never persisted and can be recomputed from the schedule at any time.
func Partition(sched models.Schedule, mediaDir string) Partitioned {
	part := Partitioned{
		Timed:    sched.Select(models.ListScheduled),
		Rotation: make([]string, 0, len(sched.MediaFiles)),
	}
	for _, entry := range sched.Select(models.ListUnscheduled) {
		part.Rotation = append(part.Rotation, filepath.Join(mediaDir, entry.FileName))
	}
	return part
}
