// Package coordinator ties the webhook and bot command surfaces to the
// outage tracker, the subscriber registry and the notification dispatcher.
package coordinator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lightsout/internal/clock"
	"lightsout/internal/eventbus"
	"lightsout/internal/metrics"
	"lightsout/internal/notifier/broadcast"
	"lightsout/internal/outage"
	logx "lightsout/pkg/logx"
)

type Tracker interface {
	Start(ctx context.Context, t time.Time) (outage.Record, error)
	End(ctx context.Context, t time.Time) (outage.Record, error)
	Current(ctx context.Context) (outage.Record, bool, error)
}

type Registry interface {
	IsSubscribed(ctx context.Context, userID int64) (bool, error)
	Add(ctx context.Context, userID int64) (bool, error)
	Remove(ctx context.Context, userID int64) (bool, error)
}

type Gate interface {
	AuthorizeWebhook(h http.Header) bool
	AuthorizeBotUser(ctx context.Context, userID int64) bool
}

type Notifier interface {
	Broadcast(ctx context.Context, text string) (broadcast.Report, error)
}

// Reply answers the user who sent a command.
type Reply func(ctx context.Context, text string) error

// Response is what a webhook caller sees.
type Response struct {
	Status int
	Body   string
}

var (
	respOK           = Response{http.StatusOK, "OK"}
	respUnauthorized = Response{http.StatusUnauthorized, "Unauthorized"}
	respConflict     = Response{http.StatusConflict, "Conflict"}
	respError        = Response{http.StatusInternalServerError, "Internal Server Error"}
)

type Deps struct {
	Clock    clock.Clock
	Gate     Gate
	Tracker  Tracker
	Registry Registry
	Notifier Notifier
	Bus      eventbus.Bus      // optional
	Metrics  *metrics.Collector // optional
	Log      logx.Logger

	// BroadcastTimeout bounds delivery after the caller's context is detached.
	BroadcastTimeout time.Duration
}

type Coordinator struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) *Coordinator {
	if d.BroadcastTimeout <= 0 {
		d.BroadcastTimeout = broadcast.DefaultTimeout
	}
	return &Coordinator{d: d, log: d.Log.With(logx.String("comp", "coordinator"))}
}

// HandlePowerOff records an outage start and notifies subscribers.
func (c *Coordinator) HandlePowerOff(ctx context.Context, h http.Header) Response {
	if !c.d.Gate.AuthorizeWebhook(h) {
		c.log.Warn("unauthorized power off request")
		return respUnauthorized
	}
	t := c.d.Clock.Now()
	c.log.Info("power outage detected", logx.Time("at", t))

	rec, err := c.d.Tracker.Start(ctx, t)
	switch {
	case errors.Is(err, outage.ErrOutageAlreadyOpen):
		return respConflict
	case err != nil:
		c.log.Error("register power off failed", logx.Err(err))
		return respError
	}
	c.d.Metrics.RecordOutageStarted()
	c.publish(eventbus.OutageStarted, rec)
	c.notify(ctx, outageStartMessage(t))
	return respOK
}

// HandlePowerOn closes the open outage and notifies subscribers. With no
// open outage nothing is sent.
func (c *Coordinator) HandlePowerOn(ctx context.Context, h http.Header) Response {
	if !c.d.Gate.AuthorizeWebhook(h) {
		c.log.Warn("unauthorized power on request")
		return respUnauthorized
	}
	t := c.d.Clock.Now()
	c.log.Info("power restored", logx.Time("at", t))

	rec, err := c.d.Tracker.End(ctx, t)
	if err != nil {
		if !errors.Is(err, outage.ErrNoOpenOutage) {
			c.log.Error("register power on failed", logx.Err(err))
		}
		return respError
	}
	c.d.Metrics.RecordOutageEnded()
	c.publish(eventbus.OutageEnded, rec)
	c.notify(ctx, outageEndMessage(t))
	return respOK
}

// notify delivers text on a context detached from the caller, so a client
// that hangs up does not cut the fan-out short.
func (c *Coordinator) notify(ctx context.Context, text string) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.d.BroadcastTimeout)
	defer cancel()
	rep, err := c.d.Notifier.Broadcast(bctx, text)
	if err != nil {
		c.log.Error("broadcast failed", logx.Err(err))
		return
	}
	c.log.Debug("broadcast delivered", logx.Int("sent", rep.Sent), logx.Int("failed", rep.Failed))
}

func (c *Coordinator) publish(typ string, rec outage.Record) {
	if c.d.Bus == nil {
		return
	}
	c.d.Bus.Publish(eventbus.Event{
		Type: typ,
		Data: eventbus.OutageData{ID: rec.ID, Started: rec.Started, Ended: rec.Ended},
	})
}

// HandleStartCommand subscribes an allow-listed user. Others get no reply.
func (c *Coordinator) HandleStartCommand(ctx context.Context, userID int64, reply Reply) error {
	if !c.d.Gate.AuthorizeBotUser(ctx, userID) {
		c.ignored("start", userID)
		return nil
	}
	if err := reply(ctx, msgSubscribed); err != nil {
		c.d.Metrics.RecordCommand("start", "error")
		return err
	}
	subscribed, err := c.d.Registry.IsSubscribed(ctx, userID)
	if err == nil && !subscribed {
		var added bool
		added, err = c.d.Registry.Add(ctx, userID)
		if added {
			c.publishSubscriber(eventbus.SubscriberAdded, userID)
		}
	}
	if err != nil {
		c.d.Metrics.RecordCommand("start", "error")
		return err
	}
	c.d.Metrics.RecordCommand("start", "ok")
	return nil
}

// HandleStopCommand unsubscribes an allow-listed user.
func (c *Coordinator) HandleStopCommand(ctx context.Context, userID int64, reply Reply) error {
	if !c.d.Gate.AuthorizeBotUser(ctx, userID) {
		c.ignored("stop", userID)
		return nil
	}
	removed, err := c.d.Registry.Remove(ctx, userID)
	if err != nil {
		c.d.Metrics.RecordCommand("stop", "error")
		return err
	}
	if removed {
		c.publishSubscriber(eventbus.SubscriberRemoved, userID)
	}
	if err := reply(ctx, msgUnsubscribed); err != nil {
		c.d.Metrics.RecordCommand("stop", "error")
		return err
	}
	c.d.Metrics.RecordCommand("stop", "ok")
	return nil
}

// HandleStatusCommand tells an allow-listed user whether power is on.
func (c *Coordinator) HandleStatusCommand(ctx context.Context, userID int64, reply Reply) error {
	if !c.d.Gate.AuthorizeBotUser(ctx, userID) {
		c.ignored("status", userID)
		return nil
	}
	rec, open, err := c.d.Tracker.Current(ctx)
	if err != nil {
		c.d.Metrics.RecordCommand("status", "error")
		return err
	}
	text := msgPowered
	if open {
		text = outageStatusMessage(rec.Started.In(c.location()))
	}
	if err := reply(ctx, text); err != nil {
		c.d.Metrics.RecordCommand("status", "error")
		return err
	}
	c.d.Metrics.RecordCommand("status", "ok")
	return nil
}

func (c *Coordinator) location() *time.Location {
	return c.d.Clock.Now().Location()
}

func (c *Coordinator) ignored(cmd string, userID int64) {
	c.log.Debug("command from unauthorized user ignored", logx.String("cmd", cmd), logx.Int64("user_id", userID))
	c.d.Metrics.RecordCommand(cmd, "ignored")
}

func (c *Coordinator) publishSubscriber(typ string, userID int64) {
	if c.d.Bus == nil {
		return
	}
	c.d.Bus.Publish(eventbus.Event{Type: typ, Data: eventbus.SubscriberData{UserID: userID}})
}
