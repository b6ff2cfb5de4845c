package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	logx "lightsout/pkg/logx"

	"github.com/stretchr/testify/assert"
)

type fakeAllow struct {
	ids map[int64]bool
	err error
}

func (f fakeAllow) IsAuthorized(_ context.Context, id int64) (bool, error) {
	return f.ids[id], f.err
}

func header(k, v string) http.Header {
	h := http.Header{}
	h.Set(k, v)
	return h
}

func TestAuthorizeWebhook(t *testing.T) {
	g := NewGate(fakeAllow{}, "", "s3cret", logx.Nop())

	tests := []struct {
		name string
		h    http.Header
		want bool
	}{
		{"valid", header("X-API-KEY", "s3cret"), true},
		{"header is case-insensitive", header("x-api-key", "s3cret"), true},
		{"wrong key", header("X-API-KEY", "nope"), false},
		{"prefix of key", header("X-API-KEY", "s3c"), false},
		{"missing", http.Header{}, false},
		{"empty value", header("X-API-KEY", ""), false},
		{"duplicated header", http.Header{"X-Api-Key": {"s3cret", "s3cret"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.AuthorizeWebhook(tt.h))
		})
	}
}

func TestEmptySecretRejectsAll(t *testing.T) {
	g := NewGate(fakeAllow{}, "", "", logx.Nop())
	assert.False(t, g.AuthorizeWebhook(header("X-API-KEY", "")))
	assert.False(t, g.AuthorizeWebhook(http.Header{}))
}

func TestSetAPIKeySwapsSecret(t *testing.T) {
	g := NewGate(fakeAllow{}, "", "old", logx.Nop())
	g.SetAPIKey("X-Token", "new")

	assert.Equal(t, "X-Token", g.Header())
	assert.False(t, g.AuthorizeWebhook(header("X-API-KEY", "old")))
	assert.True(t, g.AuthorizeWebhook(header("X-Token", "new")))
}

func TestAuthorizeBotUser(t *testing.T) {
	g := NewGate(fakeAllow{ids: map[int64]bool{7: true}}, "", "k", logx.Nop())
	ctx := context.Background()
	assert.True(t, g.AuthorizeBotUser(ctx, 7))
	assert.False(t, g.AuthorizeBotUser(ctx, 8))
}

func TestAuthorizeBotUserFailsClosed(t *testing.T) {
	g := NewGate(fakeAllow{ids: map[int64]bool{7: true}, err: errors.New("db down")}, "", "k", logx.Nop())
	assert.False(t, g.AuthorizeBotUser(context.Background(), 7))
}
