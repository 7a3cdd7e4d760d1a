package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mailherald/mailherald/internal/config"
	"github.com/mailherald/mailherald/internal/normalize"
	"github.com/mailherald/mailherald/internal/notify"
	"github.com/mailherald/mailherald/internal/source"
	"github.com/mailherald/mailherald/internal/watermark"
)

// state of one account's poll cycle.
type state int

const (
	stateIdle state = iota
	stateConnecting
	stateFetching
	stateProcessing
	stateDisconnecting
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateFetching:
		return "fetching"
	case stateProcessing:
		return "processing"
	case stateDisconnecting:
		return "disconnecting"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Poller drives poll cycles for one account. It owns the account's watermark;
// no other goroutine touches it.
type Poller struct {
	account config.Account
	source  source.Source
	sink    notify.Sink
	marks   *watermark.Tracker
	bodyCap int
	logger  *slog.Logger
	state   state
}

// New creates a Poller for the given account.
func New(acct config.Account, src source.Source, sink notify.Sink, bodyCap int, logger *slog.Logger) *Poller {
	return &Poller{
		account: acct,
		source:  src,
		sink:    sink,
		marks:   watermark.NewTracker(),
		bodyCap: bodyCap,
		logger:  logger,
		state:   stateIdle,
	}
}

// Account returns the account this poller serves.
func (p *Poller) Account() config.Account {
	return p.account
}

// RunCycle performs one connect → fetch → process → disconnect cycle. Every
// failure is absorbed here: logged with account context, never propagated, so
// one account's outage cannot affect the others.
func (p *Poller) RunCycle(ctx context.Context) {
	p.setState(stateConnecting)
	sess, err := p.source.Connect(ctx)
	if err != nil {
		p.fail("connect failed", err)
		return
	}

	err = p.runSession(ctx, sess)
	during := p.state

	p.setState(stateDisconnecting)
	if cerr := sess.Close(); cerr != nil {
		p.logger.Warn("session close failed", "account", p.account.Name, "error", cerr)
	}

	if err != nil {
		p.failAt(during, "cycle failed", err)
		return
	}
	p.setState(stateIdle)
}

func (p *Poller) runSession(ctx context.Context, sess source.Session) error {
	p.setState(stateFetching)
	batch, err := sess.Fetch(ctx, p.marks.UID())
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if len(batch) == 0 {
		p.logger.Debug("no new messages", "account", p.account.Name)
		return nil
	}

	p.setState(stateProcessing)
	p.process(ctx, batch)
	return nil
}

// process forwards the not-yet-delivered part of the batch, oldest first, and
// advances the watermark as it goes.
func (p *Poller) process(ctx context.Context, batch []source.RawMessage) {
	var candidates []source.RawMessage
	if batch[0].Kind == source.KindGraph {
		// Graph pages arrive newest-first; the tracker cuts at the stored
		// identifier and flips the remainder oldest-first.
		candidates = p.marks.CutNew(batch)
	} else {
		candidates = append([]source.RawMessage(nil), batch...)
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].UID < candidates[j].UID
		})
	}

	forwarded := 0
	for _, raw := range candidates {
		if raw.Kind != source.KindGraph && !p.marks.IsNew(raw.UID) {
			continue
		}

		msg := normalize.Normalize(raw, p.bodyCap)
		err := p.sink.Submit(ctx, p.account.ChannelID, notify.Notification{
			Title:       msg.Subject,
			Description: msg.BodyPreview,
			Author:      msg.Sender,
			Footer:      fmt.Sprintf("Inbox: %s", p.account.Name),
			Timestamp:   msg.ReceivedAt,
		})
		if err != nil {
			p.logger.Error("forward failed",
				"account", p.account.Name,
				"msg_id", msg.SourceID,
				"error", err,
			)
		} else {
			forwarded++
			p.logger.Info("forwarded",
				"account", p.account.Name,
				"msg_id", msg.SourceID,
				"channel_id", p.account.ChannelID,
			)
		}

		// The watermark advances whether or not the forward landed:
		// at-most-once delivery, so a transient sink failure skips the
		// message rather than duplicating it on the next cycle.
		p.advance(raw)
	}

	if forwarded > 0 {
		p.logger.Info(fmt.Sprintf("forwarded %d new message(s)", forwarded), "account", p.account.Name)
	}
}

func (p *Poller) advance(raw source.RawMessage) {
	if raw.Kind == source.KindGraph {
		p.marks.AdvanceID(raw.ID)
	} else {
		p.marks.Advance(raw.UID)
	}
}

// fail logs the error and settles back to idle; a failed cycle is retried on
// the next scheduled tick, never escalated.
func (p *Poller) fail(msg string, err error) {
	p.failAt(p.state, msg, err)
}

func (p *Poller) failAt(from state, msg string, err error) {
	p.setState(stateFailed)
	p.logger.Error(msg,
		"account", p.account.Name,
		"during", from.String(),
		"error", err,
	)
	p.setState(stateIdle)
}

func (p *Poller) setState(s state) {
	if s == p.state {
		return
	}
	p.logger.Debug("poll state",
		"account", p.account.Name,
		"from", p.state.String(),
		"to", s.String(),
	)
	p.state = s
}
