package storage

import (
	"context"
	"strings"
	"time"

	logx "lightsout/pkg/logx"

	"github.com/robfig/cron/v3"
)

var keepaliveParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseKeepalive validates a keepalive schedule ("@every 1m", "*/30 * * * * *", ...).
func ParseKeepalive(spec string) (cron.Schedule, error) {
	return keepaliveParser.Parse(strings.TrimSpace(spec))
}

// Keepalive pings the store on a cron schedule so a dropped session is
// noticed (and reopened) between webhook calls.
type Keepalive struct {
	st  *Store
	log logx.Logger
	c   *cron.Cron
}

// StartKeepalive schedules the check. An empty spec returns (nil, nil).
func StartKeepalive(st *Store, spec string, log logx.Logger) (*Keepalive, error) {
	if strings.TrimSpace(spec) == "" || st == nil {
		return nil, nil
	}
	sched, err := ParseKeepalive(spec)
	if err != nil {
		return nil, err
	}
	k := &Keepalive{
		st:  st,
		log: log.With(logx.String("comp", "storage.keepalive")),
		c:   cron.New(cron.WithParser(keepaliveParser)),
	}
	k.c.Schedule(sched, cron.FuncJob(k.check))
	k.c.Start()
	k.log.Debug("keepalive started", logx.String("spec", spec))
	return k, nil
}

func (k *Keepalive) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	before := k.st.Reconnects()
	if err := k.st.Ping(ctx); err != nil {
		k.log.Warn("keepalive ping failed", logx.Err(err))
		return
	}
	if k.st.Reconnects() != before {
		k.log.Info("keepalive restored database session")
	}
}

// Stop halts the schedule and waits for a running check.
func (k *Keepalive) Stop() {
	if k == nil || k.c == nil {
		return
	}
	<-k.c.Stop().Done()
}
