// Package message 将渲染完成的正文组装为可直接提交 SMTP 的 MIME 报文。
//
// 组装是纯函数：无 I/O、无模板替换，同样的输入得到同样的结构。
// Message-ID 固定为 <recipient_id@domain>，是出站与入站之间唯一的
// 关联键，必须仅凭收件人 ID 即可重建。
package message

import (
	"bytes"
	"fmt"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"hubmail/backend/internal/template"
)

// Attachment 可选附件三元组。
type Attachment struct {
	Content  []byte
	Filename string
	MimeType string
}

// BuildInput 组装一封出站邮件所需的全部输入。
type BuildInput struct {
	Sender         string // 发件人地址（From 头）
	RecipientID    int32  // 关联令牌，进入 Message-ID 与追踪像素
	RecipientName  string
	RecipientAddr  string
	Subject        string
	HTMLBody       string // 已完成两段渲染的 HTML 正文（不含追踪像素）
	Domain         string // 公开域名，用于 Message-ID 与追踪像素
	UnsubscribeURL string
	Attachment     *Attachment
}

// MessageID 返回该收件人对应的出站 Message-ID（不含尖括号）。
func MessageID(recipientID int32, domain string) string {
	return fmt.Sprintf("%d@%s", recipientID, domain)
}

// Build 组装 MIME 报文并返回其字节形式。
//
// 无附件时为 multipart/alternative（单个 text/html part），
// 有附件时为 multipart/mixed（HTML part + 附件 part）。
// 追踪像素追加为 HTML 正文的最后一个元素。
func Build(in BuildInput) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now().UTC())
	h.SetAddressList("From", []*mail.Address{{Address: in.Sender}})
	h.SetAddressList("To", []*mail.Address{{Name: in.RecipientName, Address: in.RecipientAddr}})
	h.SetSubject(in.Subject)
	h.SetMessageID(MessageID(in.RecipientID, in.Domain))
	h.Set("List-Unsubscribe", "<"+in.UnsubscribeURL+">")
	h.Set("Mime-Version", "1.0")

	if in.Attachment != nil {
		h.SetContentType("multipart/mixed", nil)
	} else {
		h.SetContentType("multipart/alternative", nil)
	}

	var buf bytes.Buffer
	w, err := gomessage.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	body := in.HTMLBody + template.TrackingPixel(in.Domain, in.RecipientID)

	var th gomessage.Header
	th.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := w.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := pw.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if in.Attachment != nil {
		var ah gomessage.Header
		ah.SetContentType(in.Attachment.MimeType, map[string]string{"name": in.Attachment.Filename})
		ah.SetContentDisposition("attachment", map[string]string{"filename": in.Attachment.Filename})
		ah.Set("Content-Transfer-Encoding", "base64")
		aw, err := w.CreatePart(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := aw.Write(in.Attachment.Content); err != nil {
			return nil, fmt.Errorf("write attachment: %w", err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("close attachment part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}

	return buf.Bytes(), nil
}
