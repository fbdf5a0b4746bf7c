package email

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessageMultipartAlternative(t *testing.T) {
	provider := NewSMTP(Config{Host: "smtp.example.com", From: "billing@example.com", FromName: "Billing"})
	provider.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	raw, err := provider.buildMessage([]string{"ada@example.com"}, "Thank you - Invoice INV-1", "<p>Thanks</p>", "Thanks")
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", msg.Header.Get("To"))
	assert.Contains(t, msg.Header.Get("From"), "billing@example.com")

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Thank you - Invoice INV-1", subject)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	reader := multipart.NewReader(msg.Body, params["boundary"])
	var types, bodies []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(part)
		require.NoError(t, err)
		types = append(types, part.Header.Get("Content-Type"))
		bodies = append(bodies, string(body))
	}
	assert.Equal(t, []string{"text/plain; charset=UTF-8", "text/html; charset=UTF-8"}, types)
	assert.Equal(t, []string{"Thanks", "<p>Thanks</p>"}, bodies)
}

func TestSendEmailRequiresRecipients(t *testing.T) {
	provider := NewSMTP(Config{Host: "127.0.0.1", Port: 1, From: "billing@example.com"})
	err := provider.SendEmail(context.Background(), []string{" "}, "s", "h", "t")
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestNoOpProvider(t *testing.T) {
	var provider Provider = &NoOpProvider{}
	assert.NoError(t, provider.SendEmail(context.Background(), []string{"a@example.com"}, "s", "h", "t"))
}
