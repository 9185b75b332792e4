// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expense は1件の支出レコードを表す。
// 作成と削除のみを行い、更新は行わない。
// OwnerIDは作成時点のログインユーザーのIDと常に一致する。
// Seqはストアが採番する挿入順で、created_atが同一のレコードの安定ソートに使う。
type Expense struct {
	ID        string
	OwnerID   string
	Seq       int64
	Amount    decimal.Decimal
	Category  string
	Note      string
	CreatedAt time.Time
}

// LedgerView はストアの最新スナップショットから全件再計算される集約ビュー。
// Expensesはcreated_at降順（同時刻はSeq降順）に並ぶ。
// 差分適用は行わず、ストア変更通知のたびに丸ごと作り直される。
type LedgerView struct {
	OwnerID       string
	Expenses      []Expense
	CategoryTotal map[string]decimal.Decimal // カテゴリ別合計
	DailyTotal    map[string]decimal.Decimal // 日別合計（オーナーのローカル日付 YYYY-MM-DD）
	Total         decimal.Decimal
	GeneratedAt   time.Time
}
