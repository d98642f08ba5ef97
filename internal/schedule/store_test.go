package schedule

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"pi-signage/internal/models"
)

func strPtr(s string) *string { return &s }

func TestStoreSaveAndLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "configurations", "cachedSched.json")
	store := NewStore(file, zerolog.Nop())

	first := models.Schedule{
		MediaFiles: []models.MediaEntry{
			{FileName: "a.mp4", StartTime: strPtr("13:00"), EndTime: strPtr("14:00")},
			{FileName: "b.mp4"},
		},
		ServerDateTime: "2024-05-01 13:30",
	}
	if err := store.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := models.Schedule{MediaFiles: []models.MediaEntry{{FileName: "c.mp4"}}, ServerDateTime: "2024-05-01 14:00"}
	if err := store.Save(second); err != nil {
		t.Fatalf("Save second: %v", err)
	}
	if !store.Previous().SameMedia(first) {
		t.Fatalf("expected previous snapshot to be the first schedule")
	}

	reopened := NewStore(file, zerolog.Nop())
	loaded, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.SameMedia(second) || loaded.ServerDateTime != second.ServerDateTime {
		t.Fatalf("unexpected loaded schedule: %+v", loaded)
	}
	if !reopened.Current().SameMedia(second) {
		t.Fatalf("expected Load to make the schedule current")
	}

	entries, err := os.ReadDir(filepath.Dir(file))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the cache file to remain, got %d entries", len(entries))
	}
}

func TestStoreLoadErrors(t *testing.T) {
	dir := t.TempDir()

	missing := NewStore(filepath.Join(dir, "missing.json"), zerolog.Nop())
	if _, err := missing.Load(); !errors.Is(err, models.ErrIO) {
		t.Fatalf("expected ErrIO for missing file, got %v", err)
	}

	broken := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(broken, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write broken cache: %v", err)
	}
	store := NewStore(broken, zerolog.Nop())
	if _, err := store.Load(); !errors.Is(err, models.ErrParse) {
		t.Fatalf("expected ErrParse for malformed file, got %v", err)
	}
	if !store.Current().IsEmpty() {
		t.Fatalf("expected failed load to leave the store empty")
	}
}

func TestStoreCurrentIsACopy(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "cache.json"), zerolog.Nop())
	if err := store.Save(models.Schedule{MediaFiles: []models.MediaEntry{{FileName: "a.mp4"}}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snapshot := store.Current()
	snapshot.MediaFiles[0].FileName = "mutated.mp4"
	if store.Current().MediaFiles[0].FileName != "a.mp4" {
		t.Fatalf("expected Current to return a defensive copy")
	}
}

func TestPartition(t *testing.T) {
	mediaDir := filepath.Join("srv", "media files")
	sched := models.Schedule{MediaFiles: []models.MediaEntry{
		{FileName: "Big Buck Bunny.mp4", StartTime: strPtr("13:00"), EndTime: strPtr("14:00")},
		{FileName: "rpi2.mp4", StartTime: nil, EndTime: nil},
		{FileName: "rpi3.mp4", StartTime: strPtr(" "), EndTime: strPtr(" ")},
		{FileName: "Cloudytime.mp4", StartTime: strPtr("15:00"), EndTime: strPtr("15:30")},
	}}

	part := Partition(sched, mediaDir)
	if len(part.Timed) != 2 || part.Timed[0].FileName != "Big Buck Bunny.mp4" || part.Timed[1].FileName != "Cloudytime.mp4" {
		t.Fatalf("unexpected timed list: %+v", part.Timed)
	}
	if *part.Timed[0].StartTime != "13:00" {
		t.Fatalf("expected timed entries to keep raw fields")
	}
	want := []string{filepath.Join(mediaDir, "rpi2.mp4"), filepath.Join(mediaDir, "rpi3.mp4")}
	if len(part.Rotation) != len(want) {
		t.Fatalf("unexpected rotation list: %v", part.Rotation)
	}
	for i := range want {
		if part.Rotation[i] != want[i] {
			t.Fatalf("rotation[%d] = %s, want %s", i, part.Rotation[i], want[i])
		}
	}

	again := Partition(sched, mediaDir)
	if len(again.Rotation) != len(part.Rotation) || len(again.Timed) != len(part.Timed) {
		t.Fatalf("expected deterministic partition")
	}
}

func TestPartitionUntimedOnly(t *testing.T) {
	sched := models.Schedule{MediaFiles: []models.MediaEntry{{FileName: "b.mp4"}}}
	part := Partition(sched, "/media")
	if len(part.Timed) != 0 {
		t.Fatalf("expected no timed entries, got %+v", part.Timed)
	}
	if len(part.Rotation) != 1 || part.Rotation[0] != filepath.Join("/media", "b.mp4") {
		t.Fatalf("unexpected rotation: %v", part.Rotation)
	}
}
