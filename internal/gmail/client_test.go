package gmail

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gmailapi "google.golang.org/api/gmail/v1"
)

func encodePart(text string) string {
	return base64.URLEncoding.EncodeToString([]byte(text))
}

func TestToInboundEmail(t *testing.T) {
	received := time.Date(2025, 8, 10, 14, 30, 0, 0, time.UTC)
	msg := &gmailapi.Message{
		Id:           "msg-1",
		InternalDate: received.UnixMilli(),
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: `"Netflix" <info@mailer.netflix.com>`},
				{Name: "Subject", Value: "Your Netflix receipt"},
				{Name: "Date", Value: "Sun, 10 Aug 2025 14:30:00 +0000"},
			},
			Body: &gmailapi.MessagePartBody{
				Data: encodePart("Thanks for your payment of $15.99."),
			},
		},
	}

	email := toInboundEmail("acc-1", msg)

	assert.Equal(t, "acc-1", email.AccountID)
	assert.Equal(t, "msg-1", email.ExternalID)
	assert.Equal(t, `"Netflix" <info@mailer.netflix.com>`, email.Sender)
	assert.Equal(t, "Your Netflix receipt", email.Subject)
	assert.Equal(t, "Thanks for your payment of $15.99.", email.Body)
	assert.True(t, email.ReceivedAt.Equal(received))
}

func TestToInboundEmail_MultipartPrefersPlainText(t *testing.T) {
	msg := &gmailapi.Message{
		Id: "msg-2",
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/alternative",
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "text/html",
					Body:     &gmailapi.MessagePartBody{Data: encodePart("<p>HTML version</p>")},
				},
				{
					MimeType: "text/plain",
					Body:     &gmailapi.MessagePartBody{Data: encodePart("Plain version")},
				},
			},
		},
	}

	email := toInboundEmail("acc-1", msg)
	assert.Equal(t, "Plain version", email.Body)
}

func TestToInboundEmail_HTMLOnlyIsStripped(t *testing.T) {
	body := `<html><head><style>body { color: red; }</style></head>
		<body><h1>Receipt</h1><p>You paid <b>$9.99</b> for Spotify&nbsp;Premium.</p>
		<script>track();</script></body></html>`
	msg := &gmailapi.Message{
		Id: "msg-3",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/html",
			Body:     &gmailapi.MessagePartBody{Data: encodePart(body)},
		},
	}

	email := toInboundEmail("acc-1", msg)
	assert.Equal(t, "Receipt You paid $9.99 for Spotify Premium.", email.Body)
	assert.NotContains(t, email.Body, "color: red")
	assert.NotContains(t, email.Body, "track()")
}

func TestToInboundEmail_FallsBackToSnippet(t *testing.T) {
	msg := &gmailapi.Message{
		Id:      "msg-4",
		Snippet: "Your invoice is attached",
		Payload: &gmailapi.MessagePart{
			MimeType: "application/pdf",
			Body:     &gmailapi.MessagePartBody{AttachmentId: "att-1"},
		},
	}

	email := toInboundEmail("acc-1", msg)
	assert.Equal(t, "Your invoice is attached", email.Body)
}

func TestDecodeBody_HandlesUnpaddedData(t *testing.T) {
	raw := "subscription renewal notice!"
	padded := base64.URLEncoding.EncodeToString([]byte(raw))
	unpadded := base64.RawURLEncoding.EncodeToString([]byte(raw))

	got, err := decodeBody(padded)
	assert.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = decodeBody(unpadded)
	assert.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = decodeBody("!!! not base64 !!!")
	assert.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, billingQuery, buildQuery(nil))

	since := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, fmt.Sprintf("%s after:%d", billingQuery, since.Unix()), buildQuery(&since))
}
