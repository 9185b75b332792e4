package ledger

import (
	"testing"
	"time"

	"github.com/hitoshi/kakeibo/internal/model"
	"github.com/shopspring/decimal"
)

func jst(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuildView_ComputesAggregates(t *testing.T) {
	loc := jst(t)
	day := time.Date(2026, 9, 1, 12, 0, 0, 0, loc)

	expenses := []model.Expense{
		{ID: "e3", Amount: dec("5"), Category: "Travel", CreatedAt: day.Add(2 * time.Hour)},
		{ID: "e2", Amount: dec("20"), Category: "Food", CreatedAt: day.Add(time.Hour)},
		{ID: "e1", Amount: dec("10"), Category: "Food", CreatedAt: day},
	}

	view := BuildView("owner-1", expenses, loc)

	if view.OwnerID != "owner-1" {
		t.Errorf("ownerID = %q, want %q", view.OwnerID, "owner-1")
	}

	// カテゴリ別合計
	if !view.CategoryTotal["Food"].Equal(dec("30")) {
		t.Errorf("CategoryTotal[Food] = %s, want 30", view.CategoryTotal["Food"])
	}
	if !view.CategoryTotal["Travel"].Equal(dec("5")) {
		t.Errorf("CategoryTotal[Travel] = %s, want 5", view.CategoryTotal["Travel"])
	}

	// 日別合計（ローカル日付）
	if !view.DailyTotal["2026-09-01"].Equal(dec("35")) {
		t.Errorf("DailyTotal[2026-09-01] = %s, want 35", view.DailyTotal["2026-09-01"])
	}

	if !view.Total.Equal(dec("35")) {
		t.Errorf("Total = %s, want 35", view.Total)
	}
}

func TestBuildView_PreservesInputOrder(t *testing.T) {
	loc := jst(t)
	now := time.Now()

	// リポジトリが返すcreated_at降順をそのまま保持する
	expenses := []model.Expense{
		{ID: "newest", Amount: dec("1"), Category: "A", CreatedAt: now},
		{ID: "middle", Amount: dec("1"), Category: "A", CreatedAt: now.Add(-time.Hour)},
		{ID: "oldest", Amount: dec("1"), Category: "A", CreatedAt: now.Add(-2 * time.Hour)},
	}

	view := BuildView("owner-1", expenses, loc)

	if len(view.Expenses) != 3 {
		t.Fatalf("expenses length = %d, want 3", len(view.Expenses))
	}
	for i, want := range []string{"newest", "middle", "oldest"} {
		if view.Expenses[i].ID != want {
			t.Errorf("expenses[%d].ID = %q, want %q", i, view.Expenses[i].ID, want)
		}
	}
}

func TestBuildView_DailyTotalUsesLocalDate(t *testing.T) {
	loc := jst(t)

	// UTCの2026-08-31 16:00はJSTでは2026-09-01 01:00
	utcEvening := time.Date(2026, 8, 31, 16, 0, 0, 0, time.UTC)

	view := BuildView("owner-1", []model.Expense{
		{ID: "e1", Amount: dec("100"), Category: "Food", CreatedAt: utcEvening},
	}, loc)

	if !view.DailyTotal["2026-09-01"].Equal(dec("100")) {
		t.Errorf("DailyTotal = %v, want entry under 2026-09-01", view.DailyTotal)
	}
	if _, ok := view.DailyTotal["2026-08-31"]; ok {
		t.Error("expected no entry under the UTC date")
	}
}

func TestBuildView_EmptySnapshot(t *testing.T) {
	view := BuildView("owner-1", nil, jst(t))

	if len(view.Expenses) != 0 {
		t.Errorf("expenses length = %d, want 0", len(view.Expenses))
	}
	if !view.Total.Equal(decimal.Zero) {
		t.Errorf("Total = %s, want 0", view.Total)
	}
	if len(view.CategoryTotal) != 0 || len(view.DailyTotal) != 0 {
		t.Error("expected empty aggregate maps")
	}
}

func TestBuildView_DecimalAmountsDoNotDrift(t *testing.T) {
	loc := jst(t)
	now := time.Now()

	// 浮動小数点では 0.1+0.2 != 0.3 になる組み合わせ
	expenses := []model.Expense{
		{ID: "e1", Amount: dec("0.1"), Category: "A", CreatedAt: now},
		{ID: "e2", Amount: dec("0.2"), Category: "A", CreatedAt: now},
	}

	view := BuildView("owner-1", expenses, loc)

	if !view.Total.Equal(dec("0.3")) {
		t.Errorf("Total = %s, want exactly 0.3", view.Total)
	}
}
