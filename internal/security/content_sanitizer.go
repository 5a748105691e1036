package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は利用者が入力した文字列のサニタイズを行う。
// 通知とメールテンプレートの保存前に使用する。
type ContentSanitizerService interface {
	// PlainText はタグをすべて除去したプレーンテキストを返す。
	// 通知のタイトル・本文に使う。前後の空白は除去する。
	PlainText(s string) string

	// TemplateHTML はメールテンプレート本文に許可するタグのみを残したHTMLを返す。
	// {{name}} 形式のプレースホルダーはそのまま保持する。
	TemplateHTML(s string) string

	// ActionURL は通知のリンク先として安全なURLであればそのまま返し、
	// そうでなければ空文字を返す。"/" で始まるアプリ内パスとhttpsのURLのみ許可する。
	ActionURL(raw string) string
}

type contentSanitizer struct {
	strict   *bluemonday.Policy
	template *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// テンプレート用ポリシー:
//   - 許可タグ: p, br, a, ul, ol, li, strong, em, h1-h3, blockquote
//   - aタグのhrefはhttps/mailtoのみ、rel="noopener noreferrer"を付与
//   - script, style, iframeおよびon*属性は除去
func NewContentSanitizer() *contentSanitizer {
	t := bluemonday.NewPolicy()
	t.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em", "h1", "h2", "h3", "blockquote",
	)
	t.AllowAttrs("href").OnElements("a")
	t.AllowURLSchemes("https", "mailto")
	t.AllowRelativeURLs(false)
	t.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		strict:   bluemonday.StrictPolicy(),
		template: t,
	}
}

// PlainText はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。表示側でエスケープされるため。
func (s *contentSanitizer) PlainText(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(in)))
}

// TemplateHTML はテンプレート本文をサニタイズする。
func (s *contentSanitizer) TemplateHTML(in string) string {
	return s.template.Sanitize(in)
}

// ActionURL は通知のリンク先を検証する。
func (s *contentSanitizer) ActionURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.Contains(raw, `\`) {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return ""
	}
	return raw
}
