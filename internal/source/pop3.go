package source

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	pop3client "github.com/knadh/go-pop3"
)

// POP3Source opens POP3/POP3S sessions to one mailbox.
type POP3Source struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
}

// NewPOP3 creates a new POP3 source.
func NewPOP3(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *POP3Source {
	return &POP3Source{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
	}
}

// Connect dials the server and authenticates.
func (s *POP3Source) Connect(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))

	client := pop3client.New(pop3client.Opt{
		Host:       s.host,
		Port:       s.port,
		TLSEnabled: s.useTLS,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect %s: %w", addr, err)
	}

	if err := conn.Auth(s.username, s.password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("pop3 auth %s: %w", s.username, err)
	}

	return &pop3Session{conn: conn, logger: s.logger}, nil
}

type pop3Session struct {
	conn   *pop3client.Conn
	logger *slog.Logger
}

func (s *pop3Session) Fetch(ctx context.Context, sinceUID uint32) ([]RawMessage, error) {
	list, err := s.conn.List(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 list: %w", err)
	}

	var msgs []RawMessage
	for _, item := range list {
		if uint32(item.ID) <= sinceUID {
			continue
		}

		rawBuf, err := s.conn.RetrRaw(item.ID)
		if err != nil {
			// One unreadable message must not sink the batch.
			s.logger.Warn("pop3 retrieve failed", "msg_id", item.ID, "error", err)
			continue
		}

		msgs = append(msgs, RawMessage{
			Kind: KindPOP3,
			UID:  uint32(item.ID),
			Raw:  rawBuf.Bytes(),
		})
	}
	return msgs, nil
}

func (s *pop3Session) Close() error {
	return s.conn.Quit()
}
