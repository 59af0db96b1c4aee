package chatops

import (
	"fmt"
	"strings"
	"time"

	"hatbot/internal/playtest"
	"hatbot/internal/storage"
	"hatbot/pkg/tgui"
)

const timeLayout = "Mon Jan 2 15:04 MST"

// RenderAnnouncement is the upcoming-event card. The countdown is computed
// against now, so each refresh moves it forward.
func RenderAnnouncement(ev playtest.TestEvent, now time.Time) tgui.Message {
	mode := "Competitive"
	if ev.Casual {
		mode = "Casual"
	}
	when := ev.StartTime.Format(timeLayout)
	switch {
	case now.Before(ev.StartTime):
		when += " (in " + tgui.Countdown(ev.StartTime.Sub(now)) + ")"
	case now.Before(ev.EndTime):
		when += " (live now)"
	}

	b := tgui.New().
		Title("🧪", "Upcoming playtest: "+ev.Title).
		KV("Creators", strings.Join(ev.Creators, " ")).
		KV("Mode", mode).
		KV("Starts", when).
		KV("Server", ev.ServerLocation).
		KV("Moderator", ev.Moderator)
	if ev.WorkshopLink != "" {
		b.HTML(tgui.Link("Workshop page", ev.WorkshopLink))
	}
	if ev.ImageAlbum != "" {
		b.HTML(tgui.Link("Image album", ev.ImageAlbum))
	}
	if d := strings.TrimSpace(ev.Description); d != "" {
		b.Blank().Line(tgui.TruncRunes(d, 1500))
	}
	return b.Build()
}

// RenderPostGame announces that a test moved to feedback.
func RenderPostGame(s storage.PlaytestSession) tgui.Message {
	b := tgui.New().
		Title("🎤", "Playtest of "+s.Title+" is over").
		Line("Please join the level testing voice channel for feedback!").
		KV("Creators", s.CreatorMentions)
	if s.ImageAlbum != "" {
		b.HTML(tgui.Link("Image album", s.ImageAlbum))
	}
	return b.Build()
}

// RenderDemo tells testers where the recorded demo can be fetched.
func RenderDemo(s storage.PlaytestSession, srv storage.Server, known bool) tgui.Message {
	b := tgui.New().
		Title("🎬", "Demo recorded: "+s.Title).
		KV("File", s.DemoName+".dem").
		KV("Workshop id", s.WorkshopID)
	if known {
		loc := strings.TrimRight(srv.FtpPath, "/")
		if loc != "" {
			loc += "/"
		}
		b.KV("Server", srv.ID)
		b.KV("Location", fmt.Sprintf("%s://%s%s.dem", ftpScheme(srv.FtpType), loc, s.DemoName))
	}
	return b.Build()
}

func ftpScheme(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "sftp":
		return "sftp"
	case "ftps":
		return "ftps"
	default:
		return "ftp"
	}
}
