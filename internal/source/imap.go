package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPSource opens IMAP/IMAPS sessions to one mailbox.
type IMAPSource struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	folder   string
	logger   *slog.Logger
}

// NewIMAP creates a new IMAP source.
func NewIMAP(host string, port int, username, password string, useTLS bool, folder string, logger *slog.Logger) *IMAPSource {
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAPSource{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		folder:   folder,
		logger:   logger,
	}
}

// Connect dials the server, logs in and selects the folder.
func (s *IMAPSource) Connect(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))

	var client *imapclient.Client
	var err error

	if s.useTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: s.host},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	if err := client.Login(s.username, s.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap login %s: %w", s.username, err)
	}

	if _, err := client.Select(s.folder, nil).Wait(); err != nil {
		client.Logout()
		client.Close()
		return nil, fmt.Errorf("imap select %s: %w", s.folder, err)
	}

	return &imapSession{client: client, logger: s.logger}, nil
}

type imapSession struct {
	client *imapclient.Client
	logger *slog.Logger
}

func (s *imapSession) Fetch(ctx context.Context, sinceUID uint32) ([]RawMessage, error) {
	var uidRange imap.UIDSet
	uidRange.AddRange(imap.UID(sinceUID+1), 0) // open end: "*"

	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{uidRange},
	}
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap uid search: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	s.logger.Debug("imap search matched", "count", len(uids))

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	buffers, err := s.client.Fetch(uidSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	var msgs []RawMessage
	for _, buf := range buffers {
		// The server may return UIDs at or below the search floor; the
		// watermark check downstream handles those.
		content := buf.FindBodySection(bodySection)
		if len(content) == 0 {
			s.logger.Warn("empty body, skipping", "uid", uint32(buf.UID))
			continue
		}

		msgs = append(msgs, RawMessage{
			Kind: KindIMAP,
			UID:  uint32(buf.UID),
			Raw:  content,
		})
	}
	return msgs, nil
}

func (s *imapSession) Close() error {
	defer s.client.Close()
	if err := s.client.Logout().Wait(); err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}
