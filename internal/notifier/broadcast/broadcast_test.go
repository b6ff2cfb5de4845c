package broadcast

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "lightsout/internal/transport"
	logx "lightsout/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRecipients struct {
	ids []int64
	err error
}

func (s staticRecipients) List(context.Context) ([]int64, error) { return s.ids, s.err }

type fakeSender struct {
	mu    sync.Mutex
	fail  map[int64]error
	block map[int64]bool
	got   map[int64]string
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if f.block[to.ChatID] {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	if err := f.fail[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.got == nil {
		f.got = map[int64]string{}
	}
	f.got[to.ChatID] = text
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

const (
	userA int64 = 101
	userB int64 = 202
	userC int64 = 303
)

func TestFailureIsIsolated(t *testing.T) {
	var logs syncBuffer
	snd := &fakeSender{fail: map[int64]error{userB: errors.New("Forbidden: bot was blocked by the user")}}

	var observed []Result
	var omu sync.Mutex
	d := New(Config{Workers: 3, RatePerSec: 100}, staticRecipients{ids: []int64{userA, userB, userC}}, snd,
		logx.NewWriter(&logs, "debug"),
		WithObserver(func(r Result) { omu.Lock(); observed = append(observed, r); omu.Unlock() }))

	rep, err := d.Broadcast(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 1, rep.Failed)

	fails := rep.Failures()
	require.Len(t, fails, 1)
	assert.Equal(t, userB, fails[0].ChatID)

	assert.Equal(t, map[int64]string{userA: "hello", userC: "hello"}, snd.got)

	var failedLines []string
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "broadcast send failed") {
			failedLines = append(failedLines, line)
		}
	}
	require.Len(t, failedLines, 1)
	assert.Contains(t, failedLines[0], "202")
	assert.Len(t, observed, 3)
}

func TestNoSubscribers(t *testing.T) {
	d := New(Config{}, staticRecipients{}, &fakeSender{}, logx.Nop())
	rep, err := d.Broadcast(context.Background(), "x")
	require.NoError(t, err)
	assert.Zero(t, rep.Total)
}

func TestListFailureIsReturned(t *testing.T) {
	listErr := errors.New("db down")
	d := New(Config{}, staticRecipients{err: listErr}, &fakeSender{}, logx.Nop())
	_, err := d.Broadcast(context.Background(), "x")
	assert.ErrorIs(t, err, listErr)
}

func TestSendTimeoutPerRecipient(t *testing.T) {
	snd := &fakeSender{block: map[int64]bool{userB: true}}
	d := New(Config{Workers: 2, RatePerSec: 100, SendTimeout: 20 * time.Millisecond},
		staticRecipients{ids: []int64{userA, userB}}, snd, logx.Nop())

	rep, err := d.Broadcast(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)
	require.Len(t, rep.Failures(), 1)
	assert.ErrorIs(t, rep.Failures()[0].Err, context.DeadlineExceeded)
}

func TestStopCancelsAfterGrace(t *testing.T) {
	snd := &fakeSender{block: map[int64]bool{userA: true}}
	d := New(Config{Workers: 1, RatePerSec: 100, SendTimeout: time.Minute, Grace: 20 * time.Millisecond},
		staticRecipients{ids: []int64{userA}}, snd, logx.Nop())

	done := make(chan Report, 1)
	go func() {
		rep, _ := d.Broadcast(context.Background(), "x")
		done <- rep
	}()
	require.Eventually(t, func() bool { return d.InFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	rep := <-done
	assert.Equal(t, 1, rep.Failed)

	_, err := d.Broadcast(context.Background(), "late")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopWaitsForRunningBroadcast(t *testing.T) {
	d := New(Config{Grace: time.Second}, staticRecipients{ids: []int64{userA}}, &fakeSender{}, logx.Nop())
	_, err := d.Broadcast(context.Background(), "x")
	require.NoError(t, err)
	require.NoError(t, d.Stop(context.Background()))
	assert.Zero(t, d.InFlight())
}
