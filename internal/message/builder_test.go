package message

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T, att *Attachment) []byte {
	t.Helper()
	raw, err := Build(BuildInput{
		Sender:         "sender@example.com",
		RecipientID:    42,
		RecipientName:  "Ada",
		RecipientAddr:  "ada@example.org",
		Subject:        "Quarterly news",
		HTMLBody:       "<p>Hi Ada</p>Dear Dr<p><a href=\"mailto:sender@example.com?subject=unsubscribe\">u</a></p>",
		Domain:         "example.com",
		UnsubscribeURL: "mailto:sender@example.com?subject=unsubscribe",
		Attachment:     att,
	})
	require.NoError(t, err)
	return raw
}

func readParts(t *testing.T, raw []byte) (header mail.Header, html string, attachments map[string][]byte) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	attachments = map[string][]byte{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, err := h.ContentType()
			require.NoError(t, err)
			if ct == "text/html" {
				body, err := io.ReadAll(part.Body)
				require.NoError(t, err)
				html = string(body)
			}
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			require.NoError(t, err)
			body, err := io.ReadAll(part.Body)
			require.NoError(t, err)
			attachments[filename] = body
		}
	}
	return mr.Header, html, attachments
}

func TestBuild(t *testing.T) {
	t.Run("基础结构与关联键", func(t *testing.T) {
		raw := buildSample(t, nil)
		header, html, attachments := readParts(t, raw)

		msgID, err := header.MessageID()
		require.NoError(t, err)
		assert.Equal(t, "42@example.com", msgID)

		subject, err := header.Subject()
		require.NoError(t, err)
		assert.Equal(t, "Quarterly news", subject)

		ct, _, err := header.ContentType()
		require.NoError(t, err)
		assert.Equal(t, "multipart/alternative", ct)

		assert.Equal(t, "<mailto:sender@example.com?subject=unsubscribe>", header.Get("List-Unsubscribe"))

		assert.Contains(t, html, "<p>Hi Ada</p>")
		assert.Contains(t, html, "Dear Dr")
		assert.True(t, strings.HasSuffix(strings.TrimSpace(html),
			`<img src="https://mail.example.com/track/42" width="1" height="1" border="0"/>`),
			"tracking pixel must be the last element of the HTML body")

		assert.Empty(t, attachments)
	})

	t.Run("携带附件时为 multipart/mixed", func(t *testing.T) {
		raw := buildSample(t, &Attachment{
			Content:  []byte("report data"),
			Filename: "report.pdf",
			MimeType: "application/pdf",
		})
		header, html, attachments := readParts(t, raw)

		ct, _, err := header.ContentType()
		require.NoError(t, err)
		assert.Equal(t, "multipart/mixed", ct)

		assert.NotEmpty(t, html)
		assert.Equal(t, []byte("report data"), attachments["report.pdf"])
	})

	t.Run("收件人显示名进入 To 头", func(t *testing.T) {
		raw := buildSample(t, nil)
		header, _, _ := readParts(t, raw)

		to, err := header.AddressList("To")
		require.NoError(t, err)
		require.Len(t, to, 1)
		assert.Equal(t, "Ada", to[0].Name)
		assert.Equal(t, "ada@example.org", to[0].Address)
	})
}

func TestMessageID(t *testing.T) {
	// Message-ID 必须仅凭收件人 ID 即可确定性重建
	assert.Equal(t, "7@example.com", MessageID(7, "example.com"))
	assert.Equal(t, MessageID(7, "example.com"), MessageID(7, "example.com"))
}
