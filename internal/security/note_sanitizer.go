// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NoteSanitizerService は支出レコードのメモ欄をサニタイズする。
// メモはフロントエンドで表形式のDOMにそのまま描画されるため、
// HTMLタグを一切許可しないプレーンテキストとして保存する。
package security

import "github.com/microcosm-cc/bluemonday"

// NoteSanitizerService はメモ欄のサニタイズ機能のインターフェースを定義する。
type NoteSanitizerService interface {
	// Sanitize はメモからHTMLタグをすべて除去したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// noteSanitizer はNoteSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type noteSanitizer struct {
	policy *bluemonday.Policy
}

// NewNoteSanitizer はNoteSanitizerServiceの新しいインスタンスを生成する。
func NewNoteSanitizer() *noteSanitizer {
	return &noteSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はメモからHTMLタグをすべて除去したプレーンテキストを返す。
func (s *noteSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}
