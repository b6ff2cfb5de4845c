package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"lightsout/internal/clock"
	"lightsout/internal/config"
	"lightsout/internal/storage"
	logx "lightsout/pkg/logx"
)

// Operator tasks run against the configured store without starting the bot.

// AuthorizeUsers adds ids to the bot allow-list and reports how many were new.
func AuthorizeUsers(ctx context.Context, cfgPath string, ids []int64) (int, error) {
	var added int
	err := withStore(ctx, cfgPath, func(cfg *config.Config, st *storage.Store, log logx.Logger) error {
		for _, id := range ids {
			ok, err := st.AuthorizeUser(ctx, id)
			if err != nil {
				return fmt.Errorf("authorize %d: %w", id, err)
			}
			if ok {
				added++
			}
			log.Info("user authorized", logx.Int64("user_id", id), logx.Bool("new", ok))
		}
		return nil
	})
	return added, err
}

// OutageHistory returns the newest limit outages with times in the configured zone.
func OutageHistory(ctx context.Context, cfgPath string, limit int) ([]storage.Outage, error) {
	var out []storage.Outage
	err := withStore(ctx, cfgPath, func(cfg *config.Config, st *storage.Store, _ logx.Logger) error {
		loc, err := clock.LoadLocation(cfg.Clock.Timezone)
		if err != nil {
			return err
		}
		list, err := st.Outages(ctx, limit)
		if err != nil {
			return err
		}
		for _, o := range list {
			o.Started = o.Started.In(loc)
			if !o.Open() {
				o.Ended = o.Ended.In(loc)
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// ParseUserIDs splits a comma separated list of Telegram user ids.
func ParseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no user ids in %q", s)
	}
	return ids, nil
}

func withStore(ctx context.Context, cfgPath string, fn func(*config.Config, *storage.Store, logx.Logger) error) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	logSvc, log := logx.New(mapLogConfig(cfg))
	defer func() { _ = logSvc.Close() }()
	log = log.With(logx.String("comp", "admin"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(ctx, sc, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(cfg, st, log)
}
