package playtest

import (
	"fmt"
	"net/url"
	"strings"

	"hatbot/internal/fault"
	"hatbot/internal/storage"
)

// BuildSession derives the session record for ev. The phase is Staged.
func BuildSession(ev TestEvent, fallbackImage string) (storage.PlaytestSession, error) {
	id, err := WorkshopID(ev.WorkshopLink)
	if err != nil {
		return storage.PlaytestSession{}, err
	}
	mode := ev.Mode()
	thumb := fallbackImage
	if ev.CanUseGallery() {
		thumb = ev.GalleryImages[0]
	}
	return storage.PlaytestSession{
		ID:              storage.SessionID,
		Mode:            string(mode),
		DemoName:        DemoName(ev, mode),
		WorkshopID:      id,
		ServerAddress:   strings.TrimSpace(ev.ServerLocation),
		Title:           ev.Title,
		ThumbnailImage:  thumb,
		ImageAlbum:      ev.ImageAlbum,
		CreatorMentions: strings.Join(ev.Creators, " "),
		StartDateTime:   ev.StartTime,
		Phase:           string(PhaseStaged),
	}, nil
}

// DemoName is MM_dd_yyyy of the start, the first word of the title and the
// mode, joined by underscores.
func DemoName(ev TestEvent, mode Mode) string {
	title := strings.TrimSpace(ev.Title)
	if i := strings.IndexByte(title, ' '); i >= 0 {
		title = title[:i]
	}
	return fmt.Sprintf("%s_%s_%s", ev.StartTime.Format("01_02_2006"), title, mode)
}

// WorkshopID extracts the id query parameter of a workshop link.
func WorkshopID(link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fault.Wrap(fault.Validation, fmt.Errorf("workshop link: %w", err))
	}
	id := strings.TrimSpace(u.Query().Get("id"))
	if id == "" {
		return "", fault.New(fault.Validation, "workshop link %q has no id", link)
	}
	return id, nil
}
