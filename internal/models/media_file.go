package models

import "time"

// MediaKind groups media files by how the player renders them.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindImage MediaKind = "image"
	KindAudio MediaKind = "audio"
	KindOther MediaKind = "other"
)

// MediaFile represents the metadata exposed for a single file in the media directory.
type MediaFile struct {
	Filename        string    `json:"filename"`
	Path            string    `json:"path"`
	Kind            MediaKind `json:"kind"`
	Title           string    `json:"title"`
	Artist          *string   `json:"artist,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	FilesizeBytes   int64     `json:"filesize_bytes"`
	ModifiedAt      time.Time `json:"modified_at"`
}
