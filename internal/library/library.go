// Package library keeps a live listing of the files in the media directory.
package library

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"pi-signage/internal/metadata"
	"pi-signage/internal/models"
	"pi-signage/internal/watch"
)

// Library watches the media directory and caches metadata for its files.
// Subdirectories are ignored; downloads always land at the top level.
type Library struct {
	dir     string
	allowed map[string]struct{}
	logger  zerolog.Logger
	watcher *watch.Watcher

	mu    sync.RWMutex
	files []models.MediaFile
}

// New scans dir and starts watching it.
func New(dir string, allowed []string, debounce time.Duration, logger zerolog.Logger) (*Library, error) {
	lib := &Library{
		dir:     dir,
		allowed: make(map[string]struct{}, len(allowed)),
		logger:  logger.With().Str("component", "media_library").Logger(),
	}
	for _, ext := range allowed {
		lib.allowed[strings.ToLower(ext)] = struct{}{}
	}

	watcher, err := watch.Dir(dir, debounce, lib.relevant, lib.refresh, lib.logger)
	if err != nil {
		return nil, err
	}
	if err := lib.refresh(); err != nil {
		watcher.Close()
		return nil, err
	}
	lib.watcher = watcher
	return lib, nil
}

// Close stops watching the directory.
func (l *Library) Close() error {
	return l.watcher.Close()
}

// ListMedia returns a snapshot of the cached metadata sorted by file name.
func (l *Library) ListMedia() []models.MediaFile {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]models.MediaFile, len(l.files))
	copy(result, l.files)
	return result
}

// Lookup returns the metadata of a single file by name.
func (l *Library) Lookup(name string) (models.MediaFile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := sort.Search(len(l.files), func(i int) bool { return l.files[i].Filename >= name })
	if idx < len(l.files) && l.files[idx].Filename == name {
		return l.files[idx], true
	}
	return models.MediaFile{}, false
}

// TotalBytes returns the combined size of the listed files.
func (l *Library) TotalBytes() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, file := range l.files {
		total += file.FilesizeBytes
	}
	return total
}

func (l *Library) refresh() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return err
	}

	var files []models.MediaFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !l.isAllowed(entry.Name()) {
			continue
		}

		file, err := metadata.Probe(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			l.logger.Debug().Err(err).Str("file", entry.Name()).Msg("metadata error")
			continue
		}
		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})

	l.mu.Lock()
	l.files = files
	l.mu.Unlock()

	l.logger.Debug().Int("files", len(files)).Msg("media listing refreshed")
	return nil
}

// relevant reports whether event may change the listing. Removals and renames
// always count since the old name's extension is all that is known.
func (l *Library) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return true
	}
	return (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && l.isAllowed(event.Name)
}

func (l *Library) isAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := l.allowed[ext]
	return ok
}
