package syncer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pi-signage/internal/models"
	"pi-signage/internal/schedule"
)

type fakeDownloader struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{calls: map[string]int{}, fail: map[string]bool{}}
}

func (d *fakeDownloader) Fetch(_ context.Context, fileName string, w io.Writer) error {
	d.mu.Lock()
	d.calls[fileName]++
	fail := d.fail[fileName]
	d.mu.Unlock()
	if fail {
		return models.ErrServerUnreachable
	}
	_, err := io.WriteString(w, "content:"+fileName)
	return err
}

func (d *fakeDownloader) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

func (d *fakeDownloader) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

// sequenceProbe returns the configured values in order, repeating the last.
type sequenceProbe struct {
	values []uint64
	err    error
	calls  int
}

func (p *sequenceProbe) Available() (uint64, error) {
	if p.err != nil {
		return 0, p.err
	}
	idx := p.calls
	if idx >= len(p.values) {
		idx = len(p.values) - 1
	}
	p.calls++
	return p.values[idx], nil
}

func strPtr(s string) *string { return &s }

func sched(names ...string) models.Schedule {
	s := models.Schedule{MediaFiles: []models.MediaEntry{}, ServerDateTime: "2024-05-01 10:00"}
	for _, name := range names {
		s.MediaFiles = append(s.MediaFiles, models.MediaEntry{FileName: name})
	}
	return s
}

func newEngine(t *testing.T, downloader Downloader, probe StorageProbe) (*Engine, *schedule.Store, string) {
	t.Helper()
	root := t.TempDir()
	mediaDir := filepath.Join(root, "media files")
	require.NoError(t, os.MkdirAll(mediaDir, 0o755))
	store := schedule.NewStore(filepath.Join(root, "configurations", "cachedSched.json"), zerolog.Nop())
	engine := NewEngine(store, downloader, probe, Config{MediaDir: mediaDir}, zerolog.Nop())
	return engine, store, mediaDir
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func TestReconcileEqualSchedulesIsNoOp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"))

	cached := sched("a.mp4", "b.mp4")
	fresh := cached.Clone()
	fresh.ServerDateTime = "2024-05-02 08:00"

	plan, err := Reconcile(fresh, cached, dir)
	require.NoError(t, err)
	assert.True(t, plan.IsNoOp())
	assert.Empty(t, plan.FilesToDelete)
	assert.Empty(t, plan.FilesToDownload)
}

func TestReconcileWipesDirectoryAndDedupsDownloads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"))
	writeFile(t, filepath.Join(dir, "stale.mp4"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	plan, err := Reconcile(sched("a.mp4", "c.mp4", "a.mp4", "../escape.mp4"), sched("a.mp4"), dir)
	require.NoError(t, err)
	assert.False(t, plan.IsNoOp())
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "stale.mp4")}, plan.FilesToDelete)
	assert.Equal(t, []string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "c.mp4")}, plan.FilesToDownload)
}

func TestReconcileMissingDirectory(t *testing.T) {
	plan, err := Reconcile(sched("a.mp4"), models.Schedule{}, filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, plan.FilesToDelete)
	assert.Len(t, plan.FilesToDownload, 1)
}

func TestApplyIsIdempotent(t *testing.T) {
	downloader := newFakeDownloader()
	engine, store, mediaDir := newEngine(t, downloader, nil)
	writeFile(t, filepath.Join(mediaDir, "old.mp4"))

	fresh := sched("a.mp4", "b.mp4")
	plan, err := Reconcile(fresh, store.Current(), mediaDir)
	require.NoError(t, err)

	result, err := engine.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, result.Downloaded)
	assert.Equal(t, []string{filepath.Join(mediaDir, "old.mp4")}, result.Deleted)
	assert.Equal(t, []string{filepath.Join(mediaDir, "a.mp4"), filepath.Join(mediaDir, "b.mp4")}, result.Partition.Rotation)
	assert.True(t, store.Current().SameMedia(fresh))
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, listDir(t, mediaDir))

	again, err := Reconcile(fresh, store.Current(), mediaDir)
	require.NoError(t, err)
	assert.True(t, again.IsNoOp())

	_, err = engine.Apply(context.Background(), again)
	require.NoError(t, err)
	assert.Equal(t, 2, downloader.total())
}

func TestApplyDownloadsPlannedFilesOnly(t *testing.T) {
	downloader := newFakeDownloader()
	engine, store, mediaDir := newEngine(t, downloader, nil)

	plan := SyncPlan{
		FilesToDownload: []string{filepath.Join(mediaDir, "b.mp4"), filepath.Join(mediaDir, "c.mp4")},
		Accepted:        sched("a.mp4", "b.mp4"),
		Changed:         true,
	}
	result, err := engine.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.mp4", "c.mp4"}, result.Downloaded)
	assert.Zero(t, downloader.count("a.mp4"))
	assert.Equal(t, []string{"b.mp4", "c.mp4"}, listDir(t, mediaDir))
	assert.True(t, store.Current().SameMedia(plan.Accepted))
}

func TestApplyRejectsPlannedPathOutsideMediaDir(t *testing.T) {
	downloader := newFakeDownloader()
	engine, _, mediaDir := newEngine(t, downloader, nil)

	outside := filepath.Join(filepath.Dir(mediaDir), "escape.mp4")
	plan := SyncPlan{
		FilesToDownload: []string{outside, filepath.Join(mediaDir, "a.mp4")},
		Accepted:        sched("a.mp4"),
		Changed:         true,
	}
	result, err := engine.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Len(t, result.Failed, 1)
	assert.Equal(t, []string{"a.mp4"}, result.Downloaded)
	assert.Equal(t, 1, downloader.total())
	_, statErr := os.Stat(outside)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestApplyEmptyingScheduleIsPersisted(t *testing.T) {
	engine, store, mediaDir := newEngine(t, newFakeDownloader(), nil)
	require.NoError(t, store.Save(sched("a.mp4")))

	plan, err := Reconcile(sched(), store.Current(), mediaDir)
	require.NoError(t, err)
	require.False(t, plan.IsNoOp())

	_, err = engine.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.NotNil(t, store.Current().MediaFiles)
	assert.Empty(t, store.Current().MediaFiles)
}

func TestDownloadAllSkipsExistingFiles(t *testing.T) {
	downloader := newFakeDownloader()
	engine, _, mediaDir := newEngine(t, downloader, nil)
	writeFile(t, filepath.Join(mediaDir, "a.mp4"))

	result, err := engine.DownloadAll(context.Background(), sched("a.mp4", "b.mp4"), models.ListAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4"}, result.Skipped)
	assert.Equal(t, []string{"b.mp4"}, result.Downloaded)
	assert.Zero(t, downloader.count("a.mp4"))

	data, err := os.ReadFile(filepath.Join(mediaDir, "a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestDownloadAllSingleAttemptPerDistinctName(t *testing.T) {
	downloader := newFakeDownloader()
	downloader.fail["bad.mp4"] = true
	engine, _, mediaDir := newEngine(t, downloader, nil)

	result, err := engine.DownloadAll(context.Background(), sched("a.mp4", "bad.mp4", "a.mp4", "bad.mp4"), models.ListAll)
	require.NoError(t, err)
	assert.Equal(t, 1, downloader.count("a.mp4"))
	assert.Equal(t, 1, downloader.count("bad.mp4"))
	assert.Equal(t, []string{"bad.mp4"}, result.Failed)
	assert.Equal(t, []string{"a.mp4"}, listDir(t, mediaDir))
}

func TestDownloadAllSelectsList(t *testing.T) {
	downloader := newFakeDownloader()
	engine, _, _ := newEngine(t, downloader, nil)

	s := models.Schedule{MediaFiles: []models.MediaEntry{
		{FileName: "timed.mp4", StartTime: strPtr("10:00"), EndTime: strPtr("11:00")},
		{FileName: "loop.mp4"},
	}}
	result, err := engine.DownloadAll(context.Background(), s, models.ListUnscheduled)
	require.NoError(t, err)
	assert.Equal(t, []string{"loop.mp4"}, result.Downloaded)
	assert.Zero(t, downloader.count("timed.mp4"))
}

func TestDownloadAllRejectsUnsafeNames(t *testing.T) {
	downloader := newFakeDownloader()
	engine, _, _ := newEngine(t, downloader, nil)

	result, err := engine.DownloadAll(context.Background(), sched("../etc.mp4", "dir/x.mp4", "ok.mp4"), models.ListAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"../etc.mp4", "dir/x.mp4"}, result.Failed)
	assert.Equal(t, []string{"ok.mp4"}, result.Downloaded)
	assert.Equal(t, 1, downloader.total())
}

func TestStorageExhaustedMidBatchKeepsEarlierFiles(t *testing.T) {
	downloader := newFakeDownloader()
	probe := &sequenceProbe{values: []uint64{1 << 30, 1 << 30, 0}}
	engine, store, mediaDir := newEngine(t, downloader, probe)

	previous := sched("old.mp4")
	require.NoError(t, store.Save(previous))

	plan, err := Reconcile(sched("a.mp4", "b.mp4", "c.mp4"), store.Current(), mediaDir)
	require.NoError(t, err)

	result, err := engine.Apply(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStorageExhausted))
	assert.True(t, result.Aborted)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, result.Downloaded)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, listDir(t, mediaDir))
	assert.Zero(t, downloader.count("c.mp4"))
	assert.True(t, store.Current().SameMedia(previous))
}

func TestProbeErrorCountsAsExhausted(t *testing.T) {
	engine, _, _ := newEngine(t, newFakeDownloader(), &sequenceProbe{err: errors.New("statfs failed")})

	_, err := engine.DownloadAll(context.Background(), sched("a.mp4"), models.ListAll)
	assert.ErrorIs(t, err, models.ErrStorageExhausted)
}

func TestMinFreeBytesThreshold(t *testing.T) {
	root := t.TempDir()
	store := schedule.NewStore(filepath.Join(root, "cache.json"), zerolog.Nop())
	probe := &sequenceProbe{values: []uint64{100}}
	engine := NewEngine(store, newFakeDownloader(), probe, Config{MediaDir: root, MinFreeBytes: 100}, zerolog.Nop())

	_, err := engine.DownloadAll(context.Background(), sched("a.mp4"), models.ListAll)
	assert.ErrorIs(t, err, models.ErrStorageExhausted)
}
