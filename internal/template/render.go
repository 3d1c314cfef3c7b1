// Package template 实现出站邮件正文的两段式占位符渲染。
//
// 占位符形如 {key}。渲染是纯函数：单次从左到右扫描，
// 替换进去的值不会被再次扫描，未知占位符原样保留（含花括号）。
// 两段式保证业务侧的收件人变量无法注入租户级控制内容
// （例如退订链接）。
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe 匹配 {key}，key 为字母/数字/下划线组成的非空词。
var placeholderRe = regexp.MustCompile(`\{([\p{L}\p{N}_]+)\}`)

// Render 单段渲染：用 vars 替换 tpl 中的占位符。
//
// vars 中不存在的 key 原样保留。替换值中的 {…} 不会触发二次展开。
func Render(tpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(match string) string {
		key := match[1 : len(match)-1]
		if value, ok := vars[key]; ok {
			return value
		}
		return match
	})
}

// RenderBody 两段式渲染出站 HTML 正文。
//
// 第一段用收件人 Fields 渲染邮件正文模板；第二段用保留键
// {message}/{name}/{unsubscribe_url} 渲染 Hub 外层模板。
// 外层模板为空时等效于 "{message}"；外层模板不含 {message} 时，
// 第一段输出作为额外的 HTML 段落追加在外层输出之后。
func RenderBody(outerTpl, bodyTpl string, fields map[string]string, name, unsubscribeURL string) string {
	message := Render(bodyTpl, fields)

	outer := outerTpl
	if outer == "" {
		outer = "{message}"
	} else if !strings.Contains(outer, "{message}") {
		outer += "<p>{message}</p>"
	}

	return Render(outer, map[string]string{
		"message":         message,
		"name":            name,
		"unsubscribe_url": unsubscribeURL,
	})
}

// TrackingPixel 返回追踪像素的 HTML 片段，必须是正文的最后一个元素。
// 协议、mail. 前缀与 /track/ 路径固定，仅域名可配置。
func TrackingPixel(domain string, recipientID int32) string {
	return fmt.Sprintf(`<img src="https://mail.%s/track/%d" width="1" height="1" border="0"/>`, domain, recipientID)
}
