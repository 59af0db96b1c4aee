package reservation

import (
	"errors"
	"testing"
	"time"
)

func TestOneReservationPerServerAndUser(t *testing.T) {
	g := NewGate()
	until := time.Now().Add(time.Hour)

	if _, err := g.Reserve(1, "CAN", until); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := g.Reserve(2, "can", until); !errors.Is(err, ErrServerTaken) {
		t.Fatalf("err = %v, want ErrServerTaken", err)
	}
	if _, err := g.Reserve(1, "aus", until); !errors.Is(err, ErrUserHasReservation) {
		t.Fatalf("err = %v, want ErrUserHasReservation", err)
	}
	if _, err := g.Reserve(2, "aus", until); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := len(g.Reservations()); got != 2 {
		t.Fatalf("Reservations() = %d, want 2", got)
	}
}

func TestReleaseFlows(t *testing.T) {
	g := NewGate()
	until := time.Now().Add(time.Hour)
	_, _ = g.Reserve(1, "can", until)
	_, _ = g.Reserve(2, "aus", until)
	_, _ = g.Reserve(3, "eu", until)

	n, ok := g.ReleaseByServer("CAN")
	if !ok || n.UserID != 1 || n.Message != ClearedNotice {
		t.Fatalf("ReleaseByServer = %+v, %v", n, ok)
	}
	if _, ok := g.ReleaseByServer("can"); ok {
		t.Fatalf("second ReleaseByServer should miss")
	}
	n, ok = g.Release(2, "done")
	if !ok || n.ServerID != "aus" || n.Message != "done" {
		t.Fatalf("Release = %+v, %v", n, ok)
	}
	all := g.ClearAll()
	if len(all) != 1 || all[0].UserID != 3 {
		t.Fatalf("ClearAll = %+v", all)
	}
	if len(g.Reservations()) != 0 {
		t.Fatalf("reservations left after ClearAll")
	}
}

func TestBlockAndAllow(t *testing.T) {
	g := NewGate()
	g.BlockReservations()
	if _, err := g.Reserve(1, "can", time.Time{}); !errors.Is(err, ErrReservationsClosed) {
		t.Fatalf("err = %v, want ErrReservationsClosed", err)
	}
	g.AllowReservations()
	if _, err := g.Reserve(1, "can", time.Time{}); err != nil {
		t.Fatalf("Reserve after allow: %v", err)
	}
}

func TestExpiredReservationsArePruned(t *testing.T) {
	g := NewGate()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	_, _ = g.Reserve(1, "can", now.Add(time.Minute))
	now = now.Add(2 * time.Minute)
	if _, err := g.Reserve(2, "can", now.Add(time.Hour)); err != nil {
		t.Fatalf("expired reservation still blocks: %v", err)
	}
}
