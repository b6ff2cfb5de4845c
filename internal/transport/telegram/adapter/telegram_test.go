package adapter

import (
	"context"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "lightsout/internal/transport"
	logx "lightsout/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	assert.Error(t, err)
}

func TestToMessage(t *testing.T) {
	assert.Nil(t, toMessage(nil))
	assert.Nil(t, toMessage(&tele.Message{Text: "/start"}))

	m := toMessage(&tele.Message{
		ID:     9,
		Text:   "/start",
		Sender: &tele.User{ID: 42, Username: "ann"},
		Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
	})
	require.NotNil(t, m)
	assert.Equal(t, kit.Message{ID: 9, ChatID: 42, FromID: 42, FromUsername: "ann", Text: "/start", IsPrivate: true}, *m)
}

func TestDeliverDropsWhenFull(t *testing.T) {
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)

	out := make(chan kit.Message, 1)
	var send chan<- kit.Message = out
	a.out.Store(&send)

	a.deliver(kit.Message{ID: 1})
	a.deliver(kit.Message{ID: 2})
	assert.Equal(t, uint64(1), a.Dropped())
	assert.Equal(t, 1, (<-out).ID)

	a.out.Store(nil)
	a.deliver(kit.Message{ID: 3})
	assert.Equal(t, uint64(1), a.Dropped())
}

func TestSendTextHonoursCancelledContext(t *testing.T) {
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.SendText(ctx, kit.ChatTarget{ChatID: 1}, "hi", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsBlocked(t *testing.T) {
	assert.True(t, IsBlocked(tele.ErrBlockedByUser))
	assert.False(t, IsBlocked(context.DeadlineExceeded))
}
