package chatops

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	kit "hatbot/internal/transport"
)

var errNoChat = errors.New("moderated chat is not configured")

// Roles applies mutes as chat restrictions in the moderated group.
type Roles struct {
	r      kit.MemberRestrictor
	chatID atomic.Int64
}

func NewRoles(r kit.MemberRestrictor, chatID int64) *Roles {
	x := &Roles{r: r}
	x.chatID.Store(chatID)
	return x
}

func (x *Roles) SetChat(chatID int64) { x.chatID.Store(chatID) }

func (x *Roles) chat() (int64, error) {
	id := x.chatID.Load()
	if id == 0 {
		return 0, errNoChat
	}
	return id, nil
}

func (x *Roles) GrantMute(ctx context.Context, userID int64, until time.Time) error {
	chatID, err := x.chat()
	if err != nil {
		return err
	}
	return x.r.Restrict(ctx, chatID, userID, until)
}

func (x *Roles) RevokeMute(ctx context.Context, userID int64) error {
	chatID, err := x.chat()
	if err != nil {
		return err
	}
	return x.r.Unrestrict(ctx, chatID, userID)
}

// IsImmune reports chat administrators.
func (x *Roles) IsImmune(ctx context.Context, userID int64) (bool, error) {
	chatID, err := x.chat()
	if err != nil {
		return false, err
	}
	return x.r.IsAdmin(ctx, chatID, userID)
}
