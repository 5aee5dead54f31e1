package ingest

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// StripScripts 删除 <script> 元素及其内容，其余标记按原样保留。
func StripScripts(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	b.Grow(len(src))
	depth := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF 或输入截断，已输出的部分即结果
			return b.String()
		}

		// TagName 会原地转小写，先复制原始字节
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			// <script/> 同样进入原始文本模式，后面一定跟着结束标签
			if isScript(z) {
				depth++
				continue
			}
		case html.EndTagToken:
			if isScript(z) {
				if depth > 0 {
					depth--
				}
				continue
			}
		}

		if depth == 0 {
			b.Write(raw)
		}
	}
}

func isScript(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	return string(name) == "script"
}

var blankLines = regexp.MustCompile(`\n[ \t]*\n+`)

// TextToHTML 把纯文本转换为可直接显示的 HTML：转义，空行分段，单个换行转为 <br/>。
func TextToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	var b strings.Builder
	for _, para := range blankLines.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br/>"))
		b.WriteString("</p>")
	}
	return b.String()
}
