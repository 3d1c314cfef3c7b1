package domain

import (
	"errors"
	"strings"
)

// 回复正文校验错误
var (
	ErrReplyEmpty   = errors.New("reply text is empty")
	ErrReplyTooLong = errors.New("reply text too long")
)

// MaxReplyLength 入库回复正文的最大长度（字符数）
const MaxReplyLength = 10000

// ValidateReply 校验并规整回复正文。
//
// 返回去除首尾空白后的文本；空白内容或超长内容视为无效。
// 无效回复不会覆盖收件人上已存储的历史回复。
func ValidateReply(reply string) (string, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return "", ErrReplyEmpty
	}
	if len([]rune(trimmed)) > MaxReplyLength {
		return "", ErrReplyTooLong
	}
	return trimmed, nil
}
