package parser

import (
	"strings"

	"golang.org/x/net/html"
)

// 这些标签结束时补换行，近似保留原有的段落结构
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true,
	"li": true, "blockquote": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "table": true,
}

// htmlToText 去除 HTML 标签得到纯文本近似。
//
// script/style 的内容整体丢弃，块级标签映射为换行，
// 不间断空格归一为普通空格。畸形 HTML 按 tokenizer
// 所能解析的部分尽量输出，不报错。
func htmlToText(input string) string {
	if input == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(input))
	var b strings.Builder
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.ReplaceAll(b.String(), " ", " ")
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skipDepth++
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}
