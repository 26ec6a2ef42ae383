// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer はIDプロバイダーやバックエンドから返されたエラー文言を
// コールバックページに表示する前に無害化する。
// 文言はURLパラメータ経由で外部から注入できるため、タグをすべて除去したうえで長さを制限する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageLength は表示するメッセージの最大文字数。
const maxMessageLength = 300

// MessageSanitizer はエラー文言の無害化のインターフェースを定義する。
type MessageSanitizer interface {
	// Sanitize はHTMLタグを除去したプレーンテキストを返す。
	// 空白のみの入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(message string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに処理を行う。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
func NewMessageSanitizer() MessageSanitizer {
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去し、連続する空白を1つにまとめ、最大文字数で切り詰める。
// 出力はテンプレートでのエスケープを前提とした非エスケープのテキスト。
func (s *messageSanitizer) Sanitize(message string) string {
	// StrictPolicyはテキストをエスケープして返すため、テンプレート側の二重エスケープを避けて戻す
	text := html.UnescapeString(s.policy.Sanitize(message))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > maxMessageLength {
		runes := []rune(text)
		text = string(runes[:maxMessageLength]) + "…"
	}
	return text
}
