// Package syncer reconciles a freshly fetched schedule with the cached one and
// brings the media directory in line with it.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"pi-signage/internal/metrics"
	"pi-signage/internal/models"
	"pi-signage/internal/schedule"
)

// Downloader streams a named media file from the signage server into w.
type Downloader interface {
	Fetch(ctx context.Context, fileName string, w io.Writer) error
}

// StorageProbe reports the bytes still available for media.
type StorageProbe interface {
	Available() (uint64, error)
}

// SyncPlan describes the filesystem work needed to accept a schedule.
type SyncPlan struct {
	FilesToDelete   []string
	FilesToDownload []string
	Accepted        models.Schedule
	Changed         bool
}

// IsNoOp reports whether the plan leaves everything untouched.
func (p SyncPlan) IsNoOp() bool {
	return !p.Changed
}

// Result summarises what an Apply or DownloadAll call did.
type Result struct {
	Deleted    []string
	Downloaded []string
	Skipped    []string
	Failed     []string
	Aborted    bool
	Partition  schedule.Partitioned
}

// Config holds the engine's static settings.
type Config struct {
	MediaDir     string
	MinFreeBytes uint64
}

// Engine applies sync plans. It is not safe for concurrent use; the
// orchestrator serialises calls.
type Engine struct {
	store      *schedule.Store
	downloader Downloader
	probe      StorageProbe
	mediaDir   string
	minFree    uint64
	logger     zerolog.Logger
}

// NewEngine wires an engine around the cache store and its collaborators. A
// nil probe disables the free-space check.
func NewEngine(store *schedule.Store, downloader Downloader, probe StorageProbe, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		store:      store,
		downloader: downloader,
		probe:      probe,
		mediaDir:   filepath.Clean(cfg.MediaDir),
		minFree:    cfg.MinFreeBytes,
		logger:     logger.With().Str("component", "sync_engine").Logger(),
	}
}

// Reconcile compares the new schedule with the cached one. Equal media lists
// yield a no-op plan. Any difference wipes every regular file in mediaDir and
// downloads every distinct file the new schedule references.
func Reconcile(newSchedule, cached models.Schedule, mediaDir string) (SyncPlan, error) {
	plan := SyncPlan{Accepted: newSchedule.Clone()}
	if newSchedule.SameMedia(cached) {
		return plan, nil
	}
	plan.Changed = true

	entries, err := os.ReadDir(mediaDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return SyncPlan{}, fmt.Errorf("%w: list media dir: %v", models.ErrIO, err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		plan.FilesToDelete = append(plan.FilesToDelete, filepath.Join(mediaDir, entry.Name()))
	}

	seen := make(map[string]struct{}, len(newSchedule.MediaFiles))
	for _, entry := range newSchedule.MediaFiles {
		if _, dup := seen[entry.FileName]; dup {
			continue
		}
		seen[entry.FileName] = struct{}{}
		if validateName(entry.FileName) != nil {
			continue
		}
		plan.FilesToDownload = append(plan.FilesToDownload, filepath.Join(mediaDir, entry.FileName))
	}
	return plan, nil
}

// Apply executes plan: delete, download, then persist the accepted schedule.
// When the download batch aborts the cached schedule is left as it was.
func (e *Engine) Apply(ctx context.Context, plan SyncPlan) (Result, error) {
	if plan.IsNoOp() {
		metrics.RecordSync("noop")
		return Result{Partition: schedule.Partition(plan.Accepted, e.mediaDir)}, nil
	}

	var deleted []string
	for _, path := range plan.FilesToDelete {
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				e.logger.Warn().Err(err).Str("file", path).Msg("delete media file")
			}
			continue
		}
		deleted = append(deleted, path)
	}
	e.logger.Info().Int("deleted", len(deleted)).Int("planned", len(plan.FilesToDelete)).Msg("media directory cleared")

	names := make([]string, 0, len(plan.FilesToDownload))
	for _, path := range plan.FilesToDownload {
		name, err := filepath.Rel(e.mediaDir, path)
		if err != nil {
			name = path
		}
		names = append(names, name)
	}
	result, err := e.fetchBatch(ctx, "plan", names)
	result.Deleted = deleted
	if err != nil {
		if errors.Is(err, models.ErrStorageExhausted) {
			metrics.RecordSync("aborted")
		} else {
			metrics.RecordSync("failed")
		}
		return result, err
	}

	if err := e.store.Save(plan.Accepted); err != nil {
		metrics.RecordSync("failed")
		return result, fmt.Errorf("save accepted schedule: %w", err)
	}

	result.Partition = schedule.Partition(plan.Accepted, e.mediaDir)
	metrics.RecordSync("applied")
	e.logger.Info().
		Int("downloaded", len(result.Downloaded)).
		Int("skipped", len(result.Skipped)).
		Int("failed", len(result.Failed)).
		Int("timed", len(result.Partition.Timed)).
		Int("rotation", len(result.Partition.Rotation)).
		Msg("schedule applied")
	return result, nil
}

// DownloadAll fetches every distinct file of the selected list that is not
// already present. Free space is probed before each file; once it runs out
// the batch stops and files fetched so far are kept.
func (e *Engine) DownloadAll(ctx context.Context, sched models.Schedule, kind models.ListKind) (Result, error) {
	entries := sched.Select(kind)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.FileName)
	}
	return e.fetchBatch(ctx, kind.String(), names)
}

// fetchBatch downloads each distinct name into the media directory. Names
// must be bare file names; anything else is counted as failed.
func (e *Engine) fetchBatch(ctx context.Context, label string, names []string) (Result, error) {
	var result Result
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if err := ctx.Err(); err != nil {
			result.Aborted = true
			return result, err
		}

		if err := validateName(name); err != nil {
			e.logger.Warn().Err(err).Str("file", name).Msg("rejecting media file name")
			result.Failed = append(result.Failed, name)
			metrics.RecordDownload("failed")
			continue
		}

		if err := e.checkStorage(); err != nil {
			e.logger.Error().Err(err).Str("file", name).Msg("aborting download batch")
			result.Aborted = true
			metrics.RecordDownload("aborted")
			return result, err
		}

		target := filepath.Join(e.mediaDir, name)
		if _, err := os.Stat(target); err == nil {
			result.Skipped = append(result.Skipped, name)
			metrics.RecordDownload("skipped")
			continue
		}

		if err := e.download(ctx, name, target); err != nil {
			e.logger.Warn().Err(err).Str("file", name).Msg("download failed")
			result.Failed = append(result.Failed, name)
			metrics.RecordDownload("failed")
			continue
		}
		e.logger.Debug().Str("file", name).Msg("downloaded")
		result.Downloaded = append(result.Downloaded, name)
		metrics.RecordDownload("downloaded")
	}

	e.logger.Info().
		Str("list", label).
		Int("downloaded", len(result.Downloaded)).
		Int("skipped", len(result.Skipped)).
		Int("failed", len(result.Failed)).
		Msg("download batch finished")
	return result, nil
}

func (e *Engine) checkStorage() error {
	if e.probe == nil {
		return nil
	}
	available, err := e.probe.Available()
	if err != nil {
		return fmt.Errorf("%w: probe: %v", models.ErrStorageExhausted, err)
	}
	if available <= e.minFree {
		return fmt.Errorf("%w: %d bytes available", models.ErrStorageExhausted, available)
	}
	return nil
}

func (e *Engine) download(ctx context.Context, name, target string) error {
	if err := os.MkdirAll(e.mediaDir, 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			e.logger.Debug().Err(err).Str("file", name).Msg("cleanup pending download")
		}
	}()

	if err := e.downloader.Fetch(ctx, name, pending); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("empty file name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name %q contains a path separator", name)
	}
	return nil
}
