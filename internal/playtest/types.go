package playtest

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNoValidEvent    = errors.New("there is no valid test event")
	ErrNoActiveSession = errors.New("there is no active playtest")
	ErrInvalidState    = errors.New("not allowed in the current playtest state")
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStaged   Phase = "staged"
	PhaseLive     Phase = "live"
	PhasePaused   Phase = "paused"
	PhasePostGame Phase = "postgame"
)

type Mode string

const (
	ModeCasual Mode = "casual"
	ModeComp   Mode = "comp"
)

// TestEvent is the calendar's view of the next playtest.
type TestEvent struct {
	Valid          bool      `json:"-" yaml:"-"`
	Casual         bool      `json:"casual" yaml:"casual"`
	Title          string    `json:"title" yaml:"title"`
	Creators       []string  `json:"creators" yaml:"creators"`
	ServerLocation string    `json:"server_location" yaml:"server_location"`
	WorkshopLink   string    `json:"workshop_link" yaml:"workshop_link"`
	CompPassword   string    `json:"comp_password,omitempty" yaml:"comp_password"`
	GalleryImages  []string  `json:"gallery_images,omitempty" yaml:"gallery_images"`
	ImageAlbum     string    `json:"image_album,omitempty" yaml:"image_album"`
	StartTime      time.Time `json:"start_time" yaml:"start_time"`
	EndTime        time.Time `json:"end_time" yaml:"end_time"`
	EditTime       time.Time `json:"edit_time" yaml:"edit_time"`
	Description    string    `json:"description" yaml:"description"`
	Moderator      string    `json:"moderator" yaml:"moderator"`
}

// CanUseGallery reports whether the event has enough gallery images to
// rotate through.
func (e TestEvent) CanUseGallery() bool { return len(e.GalleryImages) > 1 }

// Mode is the event's game mode.
func (e TestEvent) Mode() Mode {
	if e.Casual {
		return ModeCasual
	}
	return ModeComp
}

// Complete reports whether every field a session needs is present.
func (e TestEvent) Complete() bool {
	return !e.EditTime.IsZero() && !e.StartTime.IsZero() && !e.EndTime.IsZero() &&
		strings.TrimSpace(e.Title) != "" && len(e.Creators) > 0 &&
		strings.TrimSpace(e.ImageAlbum) != "" && strings.TrimSpace(e.WorkshopLink) != "" &&
		strings.TrimSpace(e.Moderator) != "" && e.Description != "" &&
		strings.TrimSpace(e.ServerLocation) != ""
}

// EventSource yields the current test event. An event that is not Valid is
// returned with a nil error.
type EventSource interface {
	TestEvent(ctx context.Context) (TestEvent, error)
}
