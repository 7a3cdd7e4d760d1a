package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailherald/mailherald/internal/config"
	"github.com/mailherald/mailherald/internal/notify"
	"github.com/mailherald/mailherald/internal/poller"
	"github.com/mailherald/mailherald/internal/source"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// countingSource hands out one fresh message per cycle, or fails every
// connect when broken.
type countingSource struct {
	mu     sync.Mutex
	broken bool
	next   uint32
	cycles int
}

func (f *countingSource) Connect(ctx context.Context) (source.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles++
	if f.broken {
		return nil, errors.New("connection refused")
	}
	f.next++
	return &staticSession{msg: rawDirect(f.next)}, nil
}

func (f *countingSource) cycleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles
}

type staticSession struct {
	msg source.RawMessage
}

func (s *staticSession) Fetch(ctx context.Context, sinceUID uint32) ([]source.RawMessage, error) {
	if s.msg.UID <= sinceUID {
		return nil, nil
	}
	return []source.RawMessage{s.msg}, nil
}

func (s *staticSession) Close() error { return nil }

func rawDirect(uid uint32) source.RawMessage {
	raw := fmt.Sprintf("From: a@example.com\r\nSubject: m%d\r\n\r\nbody\r\n", uid)
	return source.RawMessage{Kind: source.KindIMAP, UID: uid, Raw: []byte(raw)}
}

type recordingSink struct {
	mu       sync.Mutex
	channels []string
}

func (r *recordingSink) Submit(ctx context.Context, channelID string, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channelID)
	return nil
}

func (r *recordingSink) countFor(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.channels {
		if c == channelID {
			n++
		}
	}
	return n
}

func account(name, channel string) config.Account {
	return config.Account{Name: name, Protocol: "imap", ChannelID: channel}
}

func TestAccountsAreIsolated(t *testing.T) {
	healthy := &countingSource{}
	broken := &countingSource{broken: true}
	sink := &recordingSink{}

	sup := New([]*poller.Poller{
		poller.New(account("good", "chan-good"), healthy, sink, 1900, discard),
		poller.New(account("bad", "chan-bad"), broken, sink, 1900, discard),
	}, 10*time.Millisecond, discard)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	sup.Run(ctx)

	// The failing account kept its own schedule and never disturbed the
	// healthy one.
	assert.GreaterOrEqual(t, healthy.cycleCount(), 2)
	assert.GreaterOrEqual(t, broken.cycleCount(), 2)
	assert.GreaterOrEqual(t, sink.countFor("chan-good"), 2)
	assert.Zero(t, sink.countFor("chan-bad"))
}

func TestRunReturnsAfterCancellation(t *testing.T) {
	src := &countingSource{}
	sup := New([]*poller.Poller{
		poller.New(account("solo", "chan-1"), src, &recordingSink{}, 1900, discard),
	}, time.Hour, discard)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	// Let the immediate first cycle happen, then shut down.
	require.Eventually(t, func() bool { return src.cycleCount() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}

	// A one-hour interval means exactly the initial cycle ran.
	assert.Equal(t, 1, src.cycleCount())
}

func TestNoOverlapPerAccount(t *testing.T) {
	// A slow cycle must delay its successor, not run alongside it.
	slow := &slowSource{delay: 30 * time.Millisecond}
	sup := New([]*poller.Poller{
		poller.New(account("slow", "chan-1"), slow, &recordingSink{}, 1900, discard),
	}, time.Millisecond, discard)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	sup.Run(ctx)

	assert.Zero(t, slow.overlaps())
}

type slowSource struct {
	mu       sync.Mutex
	inFlight int
	overlap  int
	delay    time.Duration
}

func (s *slowSource) Connect(ctx context.Context) (source.Session, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > 1 {
		s.overlap++
	}
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return nil, errors.New("slow source never connects")
}

func (s *slowSource) overlaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}
