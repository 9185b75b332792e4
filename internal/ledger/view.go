// Package ledger は支出台帳のドメインロジックを提供する。
//
// 台帳ビュー（LedgerView）はストアの最新スナップショットから毎回全件
// 再計算される。差分適用や複数コレクションのクライアント側マージは行わない。
// 個人の家計簿規模ではO(n)の再計算で十分で、2つの通知ストリームを
// 突き合わせる際の順序の競合を設計ごと排除できる。
package ledger

import (
	"time"

	"github.com/hitoshi/kakeibo/internal/model"
	"github.com/shopspring/decimal"
)

// BuildView はスナップショットからLedgerViewを構築する。
// expensesはリポジトリが返した順序（created_at降順、同時刻はseq降順）を
// そのまま保持する。ここで再ソートはしない。
// 日別合計の日付はlocのローカル日付で丸める。
func BuildView(ownerID string, expenses []model.Expense, loc *time.Location) *model.LedgerView {
	view := &model.LedgerView{
		OwnerID:       ownerID,
		Expenses:      expenses,
		CategoryTotal: make(map[string]decimal.Decimal),
		DailyTotal:    make(map[string]decimal.Decimal),
		Total:         decimal.Zero,
		GeneratedAt:   time.Now(),
	}

	for _, e := range expenses {
		view.CategoryTotal[e.Category] = view.CategoryTotal[e.Category].Add(e.Amount)

		day := e.CreatedAt.In(loc).Format("2006-01-02")
		view.DailyTotal[day] = view.DailyTotal[day].Add(e.Amount)

		view.Total = view.Total.Add(e.Amount)
	}

	return view
}
