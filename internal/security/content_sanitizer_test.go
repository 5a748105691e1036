package security

import (
	"strings"
	"testing"
)

// TestPlainText はタグが除去され、テキストのみが残ることを検証する。
func TestPlainText(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "New applicant: Alice", "New applicant: Alice"},
		{"タグは除去", "<b>Task</b> completed", "Task completed"},
		{"scriptは中身ごと除去", `Hi<script>alert(1)</script>`, "Hi"},
		{"実体参照は戻す", "Tom & Jerry", "Tom & Jerry"},
		{"前後の空白を除去", "  hello  ", "hello"},
		{"空文字", "", ""},
		{"日本語", "<p>新しい応募者</p>", "新しい応募者"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestTemplateHTML_AllowedTags は許可タグとプレースホルダーが保持されることを検証する。
func TestTemplateHTML_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := "<h2>Welcome {{name}}</h2><p>Your start date is <strong>{{startDate}}</strong>.</p><ul><li>Bring ID</li></ul>"
	got := sanitizer.TemplateHTML(input)

	for _, want := range []string{"<h2>", "{{name}}", "<strong>{{startDate}}</strong>", "<ul><li>Bring ID</li></ul>"} {
		if !strings.Contains(got, want) {
			t.Errorf("TemplateHTML() = %q, want to contain %q", got, want)
		}
	}
}

// TestTemplateHTML_ForbiddenContent は危険な要素・属性が除去されることを検証する。
func TestTemplateHTML_ForbiddenContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		notContain string
	}{
		{"script", `<p>x</p><script>alert(1)</script>`, "<script"},
		{"iframe", `<iframe src="https://evil.example"></iframe>`, "<iframe"},
		{"style", `<style>p{color:red}</style>`, "<style"},
		{"onclick", `<p onclick="alert(1)">x</p>`, "onclick"},
		{"javascriptリンク", `<a href="javascript:alert(1)">x</a>`, "javascript:"},
		{"httpリンク", `<a href="http://example.com">x</a>`, "http://example.com"},
		{"img", `<img src="https://example.com/x.png">`, "<img"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.TemplateHTML(tt.input)
			if strings.Contains(got, tt.notContain) {
				t.Errorf("TemplateHTML(%q) = %q, should not contain %q", tt.input, got, tt.notContain)
			}
		})
	}
}

// TestTemplateHTML_HTTPSLinkGetsNoReferrer はhttpsリンクにrelが付与されることを検証する。
func TestTemplateHTML_HTTPSLinkGetsNoReferrer(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.TemplateHTML(`<a href="https://example.com/onboarding">Start</a>`)
	if !strings.Contains(got, `href="https://example.com/onboarding"`) {
		t.Errorf("href should be kept: %q", got)
	}
	if !strings.Contains(got, "noreferrer") {
		t.Errorf("rel=noreferrer should be added: %q", got)
	}
}

// TestActionURL はリンク先として許可されるURLを検証する。
func TestActionURL(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		input string
		want  string
	}{
		{"/admin/users/recABC", "/admin/users/recABC"},
		{"https://app.example.com/tasks", "https://app.example.com/tasks"},
		{"", ""},
		{"//evil.example.com", ""},
		{`/\evil.example.com`, ""},
		{"javascript:alert(1)", ""},
		{"http://app.example.com", ""},
		{"relative/path", ""},
	}

	for _, tt := range tests {
		if got := sanitizer.ActionURL(tt.input); got != tt.want {
			t.Errorf("ActionURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// TestContentSanitizerInterface はContentSanitizerServiceインターフェースの適合を検証する。
func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
