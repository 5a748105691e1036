package airtable

import (
	"strconv"
	"time"
)

// Text は文字列フィールドを返す。存在しないか型が異なる場合は空文字を返す。
func (r Record) Text(name string) string {
	switch v := r.Fields[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Bool はチェックボックスフィールドを返す。未チェックのフィールドはレスポンスに含まれない。
func (r Record) Bool(name string) bool {
	v, _ := r.Fields[name].(bool)
	return v
}

// Int は数値フィールドを整数で返す。
func (r Record) Int(name string) int {
	switch v := r.Fields[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		i, _ := strconv.Atoi(v)
		return i
	}
	return 0
}

// Strings は複数選択またはリンクフィールドを返す。
func (r Record) Strings(name string) []string {
	switch v := r.Fields[name].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// First はリンクフィールドの先頭のレコードIDを返す。
func (r Record) First(name string) string {
	if ids := r.Strings(name); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// Time は日時フィールドを返す。解釈できない場合はゼロ値を返す。
// フィールドが無い場合はレコード作成時刻を使わない。
func (r Record) Time(name string) time.Time {
	s := r.Text(name)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
