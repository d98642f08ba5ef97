package models

// PlaybackMode identifies what the playback controller is currently driving.
type PlaybackMode string

const (
	ModeIdle      PlaybackMode = "idle"
	ModeScheduled PlaybackMode = "scheduled"
	ModeRotation  PlaybackMode = "rotation"
)

// PlaybackState is a snapshot of the playback controller.
type PlaybackState struct {
	CurrentMedia  string       `json:"current_media,omitempty"`
	Mode          PlaybackMode `json:"mode"`
	RotationIndex int          `json:"rotation_index"`
	EndReached    bool         `json:"end_reached"`
}
