package source

import (
	"context"
	"strconv"
	"time"
)

// Kind identifies the protocol a message was fetched over.
type Kind string

const (
	KindIMAP  Kind = "imap"
	KindPOP3  Kind = "pop3"
	KindGraph Kind = "graph"
)

// RawMessage is the protocol-native form of one fetched message. Direct
// protocols carry a numeric UID plus the raw RFC 5322 bytes; the Graph API
// carries an opaque identifier plus pre-parsed fields. Exactly one of the
// two shapes is populated, according to Kind.
type RawMessage struct {
	Kind Kind

	UID uint32 // imap/pop3
	Raw []byte // imap/pop3

	ID     string     // graph
	Fields *APIFields // graph
}

// APIFields holds the already-parsed fields of an API-fetched message.
type APIFields struct {
	SenderName    string
	SenderAddress string
	Subject       string
	BodyText      string
	BodyHTML      string
	ReceivedAt    time.Time
}

// Identifier returns the message identifier as a string, for logging and
// for the canonical record.
func (m RawMessage) Identifier() string {
	if m.Kind == KindGraph {
		return m.ID
	}
	return strconv.FormatUint(uint64(m.UID), 10)
}

// Session is a live connection (or authorized API handle) to one mailbox.
// It must be closed on every exit path of a poll cycle.
type Session interface {
	// Fetch returns candidate messages. UID-based sources return messages
	// with UID > sinceUID, in no particular order. The Graph source ignores
	// sinceUID and returns the newest page, ordered newest-first; filtering
	// against the watermark is the caller's job there.
	Fetch(ctx context.Context, sinceUID uint32) ([]RawMessage, error)

	Close() error
}

// Source opens sessions to one account's mailbox.
type Source interface {
	Connect(ctx context.Context) (Session, error)
}
