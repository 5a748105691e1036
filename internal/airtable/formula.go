package airtable

import (
	"strconv"
	"strings"
	"time"
)

// Formula はAirtableのfilterByFormulaに渡す式。
// 値の埋め込みは必ずこのファイルの関数を経由し、文字列連結で式を組み立てない。
type Formula string

// quote は値を単一引用符で囲んだ文字列リテラルに変換する。
// バックスラッシュと単一引用符はエスケープし、改行は除去する。
func quote(v string) string {
	v = strings.NewReplacer("\r", "", "\n", "").Replace(v)
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// field はフィールド名を {} で囲む。フィールド名自体は呼び出し側の定数のみを想定し、
// 閉じ括弧は除去する。
func field(name string) string {
	return "{" + strings.ReplaceAll(name, "}", "") + "}"
}

// Eq はフィールドが値と完全一致する条件を返す。
func Eq(name, value string) Formula {
	return Formula(field(name) + "=" + quote(value))
}

// EqFold は大文字小文字を区別しない一致条件を返す。
func EqFold(name, value string) Formula {
	return Formula("LOWER(" + field(name) + ")=" + quote(strings.ToLower(value)))
}

// EqBool はチェックボックスフィールドの条件を返す。
func EqBool(name string, value bool) Formula {
	if value {
		return Formula(field(name) + "=TRUE()")
	}
	return Formula("NOT(" + field(name) + ")")
}

// EqNumber は数値フィールドの一致条件を返す。
func EqNumber(name string, value int) Formula {
	return Formula(field(name) + "=" + strconv.Itoa(value))
}

// RecordID はレコードIDの一致条件を返す。
func RecordID(id string) Formula {
	return Formula("RECORD_ID()=" + quote(id))
}

// Search はフィールドに部分文字列を含む条件を返す（大文字小文字は区別しない）。
func Search(name, term string) Formula {
	return Formula("SEARCH(" + quote(strings.ToLower(term)) + ",LOWER(" + field(name) + "))")
}

// After は日時フィールドがtより後である条件を返す。
func After(name string, t time.Time) Formula {
	return Formula("IS_AFTER(" + field(name) + "," + quote(t.UTC().Format(time.RFC3339)) + ")")
}

// Before は日時フィールドがtより前である条件を返す。
func Before(name string, t time.Time) Formula {
	return Formula("IS_BEFORE(" + field(name) + "," + quote(t.UTC().Format(time.RFC3339)) + ")")
}

// And は空でない条件をすべて満たす式を返す。
// 条件が1つだけの場合はそのまま返し、0の場合は空を返す。
func And(fs ...Formula) Formula {
	return combine("AND", fs)
}

// Or は空でない条件のいずれかを満たす式を返す。
func Or(fs ...Formula) Formula {
	return combine("OR", fs)
}

// Not は条件の否定を返す。
func Not(f Formula) Formula {
	if f == "" {
		return ""
	}
	return Formula("NOT(" + string(f) + ")")
}

func combine(op string, fs []Formula) Formula {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		if f != "" {
			parts = append(parts, string(f))
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return Formula(parts[0])
	}
	return Formula(op + "(" + strings.Join(parts, ",") + ")")
}
