// Package parser 对入站邮件做分类：关联回复、退订/退信、或忽略。
//
// 关联依据是 In-Reply-To 头中形如 <INT@DOMAIN> 的消息 ID，
// 其中 INT 是出站时写入 Message-ID 的收件人 ID。
// 单个头或正文片段的解析失败只会让该邮件被归为忽略，
// 不会中断外层的抓取循环。
package parser

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-message/mail"

	"hubmail/backend/internal/domain"
)

// Kind 分类结果标签
type Kind int

const (
	// KindIgnored 无法解析、域不匹配或两类均不命中
	KindIgnored Kind = iota
	// KindReply 关联回复：携带收件人 ID 与提取出的回复正文
	KindReply
	// KindUnsubscribe 退订或退信：携带发件人地址与原因（原始主题）
	KindUnsubscribe
)

// Result 入站邮件的分类结果。
type Result struct {
	Kind        Kind
	RecipientID int32  // Kind == KindReply 时有效
	Reply       string // 提取出的回复正文，可能为空
	Sender      string // From 头中的邮箱地址（丢弃显示名）
	Subject     string
	Reason      string // Kind == KindUnsubscribe 时的原因，取原始主题
}

// 退信主题关键词（大小写不敏感）
var bounceMarkers = []string{
	"unsubscribe",
	"undelivered mail returned",
	"delivery status notification",
}

// 引用原文的分隔标记，命中后丢弃其后内容
var originalMessageMarkers = []string{
	"original message",
	"пересылаемое сообщение",
	"исходное сообщение",
}

// 转发/引用头块前缀，已有内容后命中即停止
var headerBlockPrefixes = []string{
	"from:", "от кого:",
	"subject:", "тема:",
	"to:", "кому:",
	"date:", "дата:",
}

// Parse 解析原始 RFC-822 字节并分类。
//
// 退订/退信的判定优先于回复关联；二者均不命中且没有合法的
// In-Reply-To 关联时返回 KindIgnored。
func Parse(raw []byte, configuredDomain string) Result {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Result{Kind: KindIgnored}
	}
	defer mr.Close()

	result := Result{Kind: KindIgnored}

	if subject, err := mr.Header.Subject(); err == nil {
		result.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		result.Sender = from[0].Address
	}

	if isUnsubscribe(&mr.Header, result.Sender, result.Subject, configuredDomain) {
		if result.Sender == "" {
			// 无发件人的退订无从记录
			return Result{Kind: KindIgnored, Subject: result.Subject}
		}
		result.Kind = KindUnsubscribe
		result.Reason = result.Subject
		return result
	}

	recipientID, ok := extractRecipientID(&mr.Header, configuredDomain)
	if !ok {
		return result
	}

	result.Kind = KindReply
	result.RecipientID = recipientID
	result.Reply = CleanReply(extractBodyText(mr))
	return result
}

// extractRecipientID 在 In-Reply-To 的各个消息 ID 中寻找
// <INT@DOMAIN> 形式的第一个匹配，INT 须落在 int32 范围内。
func extractRecipientID(h *mail.Header, configuredDomain string) (int32, bool) {
	ids, err := h.MsgIDList("In-Reply-To")
	if err != nil || len(ids) == 0 {
		return 0, false
	}
	for _, id := range ids {
		at := strings.LastIndex(id, "@")
		if at < 0 || id[at+1:] != configuredDomain {
			continue
		}
		parsed, err := strconv.ParseInt(id[:at], 10, 32)
		if err != nil {
			continue
		}
		return int32(parsed), true
	}
	return 0, false
}

// isUnsubscribe 退订/退信启发式判定。
func isUnsubscribe(h *mail.Header, sender, subject, configuredDomain string) bool {
	lowerSender := strings.ToLower(sender)
	if strings.HasPrefix(lowerSender, "mailer-daemon@") || strings.Contains(lowerSender, "postmaster") {
		return true
	}

	lowerSubject := strings.ToLower(subject)
	for _, marker := range bounceMarkers {
		if strings.Contains(lowerSubject, marker) {
			return true
		}
	}

	// 入站邮件自带的 List-Unsubscribe 指向本服务时视为退订请求
	if listUnsub := h.Get("List-Unsubscribe"); listUnsub != "" && strings.Contains(listUnsub, configuredDomain) {
		return true
	}

	return false
}

// extractBodyText 提取回复原文：优先第一个 text/plain，
// 否则取第一个 text/html 并去除标签。
func extractBodyText(mr *mail.Reader) string {
	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && plain == "":
			plain = string(body)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(body)
		}
	}

	if plain != "" {
		return plain
	}
	return htmlToText(html)
}

// CleanReply 启发式剥离引用原文，保留用户新写的内容。
//
// 规则：丢弃以 > 开头的引用行；遇到 "On … wrote:" 或
// 原文分隔标记即停止；已有内容后遇到转发头块（From:/Subject:/…
// 及俄语等价形式）也停止。全部剥空时回退为第一个非引用段落。
// 结果可能为空，空回复仍是合法的关联回复。
func CleanReply(text string) string {
	normalized := strings.ReplaceAll(text, "\r", "")

	var kept []string
	for _, line := range strings.Split(normalized, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(kept) > 0 {
				kept = append(kept, "")
			}
			continue
		}

		lower := strings.ToLower(trimmed)

		if strings.HasPrefix(lower, "on ") && strings.HasSuffix(lower, " wrote:") {
			break
		}
		if containsAny(lower, originalMessageMarkers) {
			break
		}
		if len(kept) > 0 && hasAnyPrefix(lower, headerBlockPrefixes) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, trimmed)
	}

	reply := strings.TrimSpace(strings.Join(kept, "\n"))
	if reply != "" {
		return reply
	}

	// 回退：第一个去掉引用行后仍非空的段落
	for _, para := range strings.Split(normalized, "\n\n") {
		var lines []string
		for _, line := range strings.Split(para, "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), ">") {
				lines = append(lines, line)
			}
		}
		candidate := strings.TrimSpace(strings.Join(lines, "\n"))
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// ValidatedReply 校验提取出的回复正文；无效时返回 nil。
func ValidatedReply(reply string) *string {
	validated, err := domain.ValidateReply(reply)
	if err != nil {
		return nil
	}
	return &validated
}
