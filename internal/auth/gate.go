// Package auth decides whether a webhook call or a bot user may act.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"

	logx "lightsout/pkg/logx"
)

const DefaultHeader = "X-API-KEY"

// AllowList answers allow-list membership. *storage.Store implements it.
type AllowList interface {
	IsAuthorized(ctx context.Context, userID int64) (bool, error)
}

type secret struct {
	header string
	key    []byte
}

// Gate holds the webhook secret and the bot user allow-list.
// The secret can be replaced while requests are in flight.
type Gate struct {
	allow AllowList
	log   logx.Logger
	cur   atomic.Pointer[secret]
}

func NewGate(allow AllowList, header, apiKey string, log logx.Logger) *Gate {
	g := &Gate{allow: allow, log: log.With(logx.String("comp", "auth"))}
	g.SetAPIKey(header, apiKey)
	return g
}

// SetAPIKey swaps the webhook header and secret. An empty key rejects every call.
func (g *Gate) SetAPIKey(header, apiKey string) {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultHeader
	}
	g.cur.Store(&secret{header: header, key: []byte(apiKey)})
}

// Header is the name of the header carrying the secret.
func (g *Gate) Header() string { return g.cur.Load().header }

// AuthorizeWebhook reports whether h carries the configured secret.
func (g *Gate) AuthorizeWebhook(h http.Header) bool {
	s := g.cur.Load()
	if len(s.key) == 0 {
		return false
	}
	vals := h.Values(s.header)
	if len(vals) != 1 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(vals[0]), s.key) == 1
}

// AuthorizeBotUser reports allow-list membership. Store failures deny.
func (g *Gate) AuthorizeBotUser(ctx context.Context, userID int64) bool {
	ok, err := g.allow.IsAuthorized(ctx, userID)
	if err != nil {
		g.log.Error("authorization lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return ok
}
