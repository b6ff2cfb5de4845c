package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	kit "lightsout/internal/transport"
	logx "lightsout/pkg/logx"
)

// Broadcast sends text to every subscriber listed at call time. The only
// error is a failed subscriber lookup (or a stopped dispatcher); delivery
// failures are reported in the Report.
func (d *Dispatcher) Broadcast(ctx context.Context, text string) (Report, error) {
	if !d.begin() {
		return Report{}, ErrStopped
	}
	defer d.end()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(d.base, cancel)
	defer stop()

	ids, err := d.recips.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("broadcast: %w", err)
	}

	rep := Report{Total: len(ids), Results: make([]Result, len(ids))}
	if len(ids) == 0 {
		d.log.Info("broadcast skipped, no subscribers")
		return rep, nil
	}

	workers := min(d.cfg.Workers, len(ids))
	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range idx {
				rep.Results[i] = d.sendOne(ctx, ids[i], text)
			}
		}()
	}
	for i := range ids {
		idx <- i
	}
	close(idx)
	wg.Wait()

	for _, r := range rep.Results {
		if r.Err != nil {
			rep.Failed++
		} else {
			rep.Sent++
		}
	}
	rep.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", rep.Took),
	}
	if rep.Failed > 0 {
		d.log.Warn("broadcast finished with failures", fields...)
	} else {
		d.log.Info("broadcast finished", fields...)
	}
	return rep, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, chatID int64, text string) (res Result) {
	start := time.Now()
	res.ChatID = chatID
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
		}
		res.Took = time.Since(start)
		if res.Err != nil {
			d.log.Warn("broadcast send failed", logx.Int64("chat_id", chatID), logx.Err(res.Err))
		}
		if d.observe != nil {
			d.observe(res)
		}
	}()

	if err := d.limiter.Wait(ctx); err != nil {
		res.Err = err
		return res
	}
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	_, res.Err = d.sender.SendText(sctx, kit.ChatTarget{ChatID: chatID}, text, nil)
	return res
}
