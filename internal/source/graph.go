package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/mailherald/mailherald/internal/auth"
	"github.com/mailherald/mailherald/internal/config"
)

// GraphSource fetches messages for one account over the Microsoft Graph API.
// Connecting acquires a bearer token; there is no long-lived connection to
// release, so Close on its sessions is a no-op.
type GraphSource struct {
	account config.Account
	tokens  *auth.Provider
	logger  *slog.Logger
}

// NewGraph creates a Graph source backed by the given token provider.
func NewGraph(acct config.Account, tokens *auth.Provider, logger *slog.Logger) *GraphSource {
	return &GraphSource{
		account: acct,
		tokens:  tokens,
		logger:  logger,
	}
}

// Connect obtains a token for the account and builds a Graph client around it.
func (s *GraphSource) Connect(ctx context.Context) (Session, error) {
	tok, err := s.tokens.Acquire(ctx, s.account)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(
		&staticTokenCredential{token: tok}, nil)
	if err != nil {
		return nil, fmt.Errorf("create graph client: %w", err)
	}

	return &graphSession{
		client:   client,
		user:     s.account.UserEmail,
		pageSize: s.account.GetPageSize(),
		logger:   s.logger,
	}, nil
}

type graphSession struct {
	client   *msgraphsdk.GraphServiceClient
	user     string
	pageSize int
	logger   *slog.Logger
}

// Fetch returns the newest page of messages, newest first. sinceUID is
// meaningless for opaque Graph identifiers and is ignored; the caller filters
// against its watermark.
func (s *graphSession) Fetch(ctx context.Context, sinceUID uint32) ([]RawMessage, error) {
	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Top:     int32Ptr(int32(s.pageSize)),
			Orderby: []string{"receivedDateTime desc"},
			Select:  []string{"id", "subject", "from", "bodyPreview", "body", "receivedDateTime"},
		},
	}

	result, err := s.client.Users().ByUserId(s.user).Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("graph list messages: %w", err)
	}

	var msgs []RawMessage
	for _, m := range result.GetValue() {
		if m == nil || m.GetId() == nil {
			continue
		}
		msgs = append(msgs, RawMessage{
			Kind:   KindGraph,
			ID:     *m.GetId(),
			Fields: graphFields(m),
		})
	}

	s.logger.Debug("graph page fetched", "count", len(msgs))
	return msgs, nil
}

func (s *graphSession) Close() error {
	return nil
}

// graphFields maps a Graph message onto the pre-parsed field bundle. Every
// field is optional on the wire; absent ones stay empty and degrade to
// placeholders during normalization.
func graphFields(m models.Messageable) *APIFields {
	f := &APIFields{}

	if from := m.GetFrom(); from != nil {
		if addr := from.GetEmailAddress(); addr != nil {
			if name := addr.GetName(); name != nil {
				f.SenderName = *name
			}
			if address := addr.GetAddress(); address != nil {
				f.SenderAddress = *address
			}
		}
	}

	if subject := m.GetSubject(); subject != nil {
		f.Subject = *subject
	}

	if preview := m.GetBodyPreview(); preview != nil {
		f.BodyText = *preview
	}

	if body := m.GetBody(); body != nil && body.GetContent() != nil {
		if ct := body.GetContentType(); ct != nil && *ct == models.HTML_BODYTYPE {
			f.BodyHTML = *body.GetContent()
		} else if f.BodyText == "" {
			f.BodyText = *body.GetContent()
		}
	}

	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		f.ReceivedAt = *rcvd
	}

	return f
}

// staticTokenCredential adapts an already-acquired bearer token to the Azure
// credential interface the Graph SDK expects.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}

func int32Ptr(i int32) *int32 {
	return &i
}
