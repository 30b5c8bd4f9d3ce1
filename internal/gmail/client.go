package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
)

const (
	// pageSize is how many message ids one list call returns.
	pageSize = 100
	// fetchLimit caps messages per scan so a first sync of a large mailbox
	// stays bounded; older mail is picked up by subsequent scans.
	fetchLimit = 500
)

// billingQuery narrows the Gmail search to mail that could plausibly carry
// billing facts. It only trims fetch volume; the classifier decides relevance.
const billingQuery = `(subscription OR receipt OR invoice OR renewal OR trial OR "payment confirmation" OR "billing statement")`

// Source fetches messages from a Gmail mailbox. It implements
// service.MailSource.
type Source struct {
	service *gmailapi.Service
	logger  *slog.Logger
}

// NewSource authenticates against Gmail and returns a message source. The
// token flow is interactive on first use and silent afterwards.
func NewSource(ctx context.Context, config OAuth2Config, logger *slog.Logger) (*Source, error) {
	token, err := GetOrCreateToken(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMailConnection, err)
	}
	return NewSourceFromToken(ctx, config, token, logger)
}

// NewSourceFromToken builds a source from an already issued token. It never
// prompts, so it is safe in headless processes.
func NewSourceFromToken(ctx context.Context, config OAuth2Config, token *oauth2.Token, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := config.oauthConfig().Client(ctx, token)
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gmail service: %v", common.ErrMailConnection, err)
	}

	return &Source{service: svc, logger: logger}, nil
}

// Fetch lists messages received after since (all matching mail when nil) and
// returns their decoded contents. Individual messages that fail to download
// are skipped with a warning rather than failing the scan.
func (s *Source) Fetch(ctx context.Context, account model.EmailAccount, since *time.Time) ([]model.InboundEmail, error) {
	query := buildQuery(since)
	ids, err := s.listMessageIDs(ctx, query)
	if err != nil {
		return nil, err
	}

	emails := make([]model.InboundEmail, 0, len(ids))
	for _, id := range ids {
		msg, getErr := s.service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if getErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("Failed to fetch message, skipping",
				"account", account.Address,
				"message_id", id,
				"error", getErr)
			continue
		}
		emails = append(emails, toInboundEmail(account.ID, msg))
	}

	s.logger.Info("Fetched mailbox messages",
		"account", account.Address,
		"listed", len(ids),
		"fetched", len(emails))

	return emails, nil
}

func (s *Source) listMessageIDs(ctx context.Context, query string) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		call := s.service.Users.Messages.List("me").Q(query).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list messages: %v", common.ErrMailConnection, err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
			if len(ids) >= fetchLimit {
				return ids, nil
			}
		}

		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

// buildQuery appends the incremental-sync cutoff to the billing search.
// Gmail's after: operator accepts epoch seconds.
func buildQuery(since *time.Time) string {
	if since == nil {
		return billingQuery
	}
	return fmt.Sprintf("%s after:%d", billingQuery, since.Unix())
}

func toInboundEmail(accountID string, msg *gmailapi.Message) model.InboundEmail {
	email := model.InboundEmail{
		AccountID:  accountID,
		ExternalID: msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch {
			case strings.EqualFold(header.Name, "From"):
				email.Sender = header.Value
			case strings.EqualFold(header.Name, "Subject"):
				email.Subject = header.Value
			}
		}
		email.Body = extractBody(msg.Payload)
	}

	// Snippet is better than nothing for messages with no decodable part.
	if email.Body == "" {
		email.Body = msg.Snippet
	}

	return email
}

// extractBody walks the MIME tree preferring a plain-text part, falling back
// to stripped HTML.
func extractBody(part *gmailapi.MessagePart) string {
	if text := findPart(part, "text/plain"); text != "" {
		return text
	}
	if htmlBody := findPart(part, "text/html"); htmlBody != "" {
		return stripHTML(htmlBody)
	}
	return ""
}

func findPart(part *gmailapi.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if decoded, err := decodeBody(part.Body.Data); err == nil {
			return decoded
		}
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

// decodeBody handles both padded and unpadded base64url, which Gmail mixes.
func decodeBody(data string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return "", err
		}
	}
	return string(decoded), nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
)

// stripHTML reduces an HTML body to the text a reader would see: style and
// script blocks dropped, tags removed, entities decoded, whitespace collapsed.
// Entities decode before the collapse so non-breaking spaces fold away too.
func stripHTML(s string) string {
	s = scriptRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
