package models

import (
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// MediaEntry is one file referenced by a schedule. StartTime and EndTime are
// "HH:MM" strings; nil means the server sent null or omitted the field.
type MediaEntry struct {
	FileName  string  `json:"fileName"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
}

// IsTimed reports whether the entry carries a time window. Entries with a
// nil or blank start time belong to the rotation list.
func (e MediaEntry) IsTimed() bool {
	return e.StartTime != nil && strings.TrimSpace(*e.StartTime) != ""
}

// Window parses the entry's time window.
func (e MediaEntry) Window() (start, end ClockTime, err error) {
	if !e.IsTimed() {
		return 0, 0, ErrParse
	}
	start, err = ParseClockTime(*e.StartTime)
	if err != nil {
		return 0, 0, err
	}
	if e.EndTime == nil {
		return 0, 0, ErrParse
	}
	end, err = ParseClockTime(*e.EndTime)
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, ErrParse
	}
	return start, end, nil
}

// Schedule is the document returned by the signage server and cached locally.
type Schedule struct {
	MediaFiles     []MediaEntry `json:"mediaFiles"`
	ServerDateTime string       `json:"serverDateTime"`
}

// ListKind selects a subset of a schedule's entries.
type ListKind int

const (
	ListAll ListKind = iota
	ListScheduled
	ListUnscheduled
)

func (k ListKind) String() string {
	switch k {
	case ListScheduled:
		return "scheduled"
	case ListUnscheduled:
		return "unscheduled"
	default:
		return "all"
	}
}

// IsEmpty reports whether the document carried nothing at all. A schedule
// with an explicit empty mediaFiles list is not empty.
func (s Schedule) IsEmpty() bool {
	return s.MediaFiles == nil && strings.TrimSpace(s.ServerDateTime) == ""
}

// SameMedia reports whether both schedules reference the same entries in the
// same order. The server timestamp is ignored.
func (s Schedule) SameMedia(other Schedule) bool {
	return cmp.Equal(s.MediaFiles, other.MediaFiles, cmpopts.EquateEmpty())
}

// Select returns a copy of the entries matching kind.
func (s Schedule) Select(kind ListKind) []MediaEntry {
	result := make([]MediaEntry, 0, len(s.MediaFiles))
	for _, entry := range s.MediaFiles {
		switch kind {
		case ListScheduled:
			if !entry.IsTimed() {
				continue
			}
		case ListUnscheduled:
			if entry.IsTimed() {
				continue
			}
		}
		result = append(result, entry.clone())
	}
	return result
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	clone := Schedule{ServerDateTime: s.ServerDateTime}
	if s.MediaFiles != nil {
		clone.MediaFiles = make([]MediaEntry, len(s.MediaFiles))
		for i, entry := range s.MediaFiles {
			clone.MediaFiles[i] = entry.clone()
		}
	}
	return clone
}

func (e MediaEntry) clone() MediaEntry {
	return MediaEntry{
		FileName:  e.FileName,
		StartTime: cloneString(e.StartTime),
		EndTime:   cloneString(e.EndTime),
	}
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
