package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	wrapped := fmt.Errorf("send exec: %w", Wrap(RemoteUnavailable, base))

	if got := KindOf(wrapped); got != RemoteUnavailable {
		t.Fatalf("KindOf() = %v, want %v", got, RemoteUnavailable)
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("errors.Is should see through kind wrapper")
	}
	if KindOf(base) != Unknown {
		t.Fatalf("plain error should be Unknown")
	}
	if Wrap(Persistence, nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestVisible(t *testing.T) {
	cases := map[Kind]bool{
		Validation:        true,
		Precondition:      true,
		RemoteUnavailable: false,
		Persistence:       false,
		RoleGrant:         false,
		Unknown:           false,
	}
	for k, want := range cases {
		if got := k.Visible(); got != want {
			t.Fatalf("%v.Visible() = %v, want %v", k, got, want)
		}
	}
}
