// Package metadata inspects files in the media directory for the status API.
package metadata

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"pi-signage/internal/models"
)

var kinds = map[string]models.MediaKind{
	".mp4":  models.KindVideo,
	".mov":  models.KindVideo,
	".avi":  models.KindVideo,
	".mkv":  models.KindVideo,
	".jpg":  models.KindImage,
	".jpeg": models.KindImage,
	".png":  models.KindImage,
	".mp3":  models.KindAudio,
}

// KindOf classifies path by its extension.
func KindOf(path string) models.MediaKind {
	if kind, ok := kinds[strings.ToLower(filepath.Ext(path))]; ok {
		return kind
	}
	return models.KindOther
}

// Probe builds a metadata snapshot for the media file at path. Tags are read
// from MP4 and MP3 containers; duration is only computed for MP3.
func Probe(path string) (models.MediaFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.MediaFile{}, err
	}

	file := models.MediaFile{
		Filename:      filepath.Base(path),
		Path:          path,
		Kind:          KindOf(path),
		FilesizeBytes: info.Size(),
		ModifiedAt:    info.ModTime().UTC().Round(time.Second),
	}

	if file.Kind != models.KindImage {
		file.Title, file.Artist = readTags(path)
	}
	if file.Title == "" {
		file.Title = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	if file.Kind == models.KindAudio {
		if seconds, err := mp3Duration(path); err == nil && seconds > 0 {
			file.DurationSeconds = &seconds
		}
	}

	return file, nil
}

func readTags(path string) (string, *string) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(meta.Title()), optionalString(meta.Artist())
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func mp3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}
	return total, nil
}
