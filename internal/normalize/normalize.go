// Package normalize converts protocol-native messages into the one canonical
// record that crosses into the notification forwarder. Normalization never
// fails: a missing or malformed field degrades to its placeholder so that a
// single broken message cannot abort a batch.
package normalize

import (
	"bytes"
	"html"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mailherald/mailherald/internal/source"

	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"
)

// Placeholders used when a field cannot be resolved.
const (
	UnknownSender = "Unknown Sender"
	NoSubject     = "(no subject)"
	NoContent     = "(no content)"
)

const (
	maxSubject  = 250
	subjectKeep = 247
)

var htmlStripper = bluemonday.StrictPolicy()

// Canonical is the protocol-independent representation of one email.
type Canonical struct {
	Sender      string
	Subject     string
	BodyPreview string
	ReceivedAt  time.Time
	SourceID    string
}

// Normalize builds the canonical record for a raw message. bodyCap bounds
// the preview length after whitespace collapsing.
func Normalize(msg source.RawMessage, bodyCap int) Canonical {
	var sender, subject, bodyText, bodyHTML string
	var received time.Time

	if msg.Kind == source.KindGraph && msg.Fields != nil {
		sender = firstNonEmpty(msg.Fields.SenderName, msg.Fields.SenderAddress)
		subject = msg.Fields.Subject
		bodyText = msg.Fields.BodyText
		bodyHTML = msg.Fields.BodyHTML
		received = msg.Fields.ReceivedAt
	} else {
		sender, subject, bodyText, bodyHTML, received = parseRaw(msg.Raw)
	}

	if sender == "" {
		sender = UnknownSender
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = NoSubject
	}
	if r := []rune(subject); len(r) > maxSubject {
		subject = string(r[:subjectKeep]) + "..."
	}

	body := bodyText
	if strings.TrimSpace(body) == "" && bodyHTML != "" {
		body = html.UnescapeString(htmlStripper.Sanitize(bodyHTML))
	}
	body = collapseWhitespace(body)
	if body == "" {
		body = NoContent
	}
	if r := []rune(body); len(r) > bodyCap {
		body = string(r[:bodyCap])
	}

	if received.IsZero() {
		received = time.Now()
	}

	return Canonical{
		Sender:      sender,
		Subject:     subject,
		BodyPreview: body,
		ReceivedAt:  received,
		SourceID:    msg.Identifier(),
	}
}

// parseRaw extracts the fields of interest from raw RFC 5322 bytes. Parse
// failures at any level leave the corresponding fields empty.
func parseRaw(raw []byte) (sender, subject, bodyText, bodyHTML string, date time.Time) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil || mr == nil {
		return
	}
	defer mr.Close()

	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		sender = firstNonEmpty(addrs[0].Name, addrs[0].Address)
	}
	if sender == "" {
		sender = mr.Header.Get("From")
	}

	if s, err := mr.Header.Subject(); err == nil {
		subject = s
	}
	if subject == "" {
		subject = mr.Header.Get("Subject")
	}

	if d, err := mr.Header.Date(); err == nil {
		date = d
	}

	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
		switch ct {
		case "text/html":
			if bodyHTML == "" {
				bodyHTML = string(b)
			}
		default:
			if bodyText == "" {
				bodyText = string(b)
			}
		}
	}
	return
}

// collapseWhitespace reduces every whitespace run to a single space and trims
// the ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
