package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/kakeibo/internal/model"
	"github.com/hitoshi/kakeibo/internal/repository"
	"github.com/hitoshi/kakeibo/internal/security"
	"github.com/shopspring/decimal"
)

// Metrics は台帳メトリクスの記録インターフェース。metrics.Collectorが実装する。
type Metrics interface {
	// RecordExpenseWrite は支出レコードの書き込み操作（add/delete）を記録する。
	RecordExpenseWrite(op string)
	// RecordViewRecompute はLedgerView再計算の所要時間を記録する。
	RecordViewRecompute(d time.Duration)
	// IncStreamSubscribers はライブ購読者数を増やす。
	IncStreamSubscribers()
	// DecStreamSubscribers はライブ購読者数を減らす。
	DecStreamSubscribers()
}

// Service は支出台帳のサービス層。
// 書き込みは非楽観的で、ローカルのビューを直接更新しない。
// ビューの更新は常にストアの変更通知を起点とする（正はストア側）。
type Service struct {
	expenseRepo repository.ExpenseRepository
	sanitizer   security.NoteSanitizerService
	metrics     Metrics
	loc         *time.Location
}

// NewService はServiceを生成する。
// locは日別集計に使うオーナーのローカルタイムゾーン。
func NewService(
	expenseRepo repository.ExpenseRepository,
	sanitizer security.NoteSanitizerService,
	metrics Metrics,
	loc *time.Location,
) *Service {
	return &Service{
		expenseRepo: expenseRepo,
		sanitizer:   sanitizer,
		metrics:     metrics,
		loc:         loc,
	}
}

// AddExpense は支出レコードを作成する。
// 金額とカテゴリはストアへの書き込み前にローカルで検証し、
// 不正な入力はネットワーク往復なしで即座にエラーにする。
// 成功してもビューは直接更新しない。ストアの変更通知が届いてから
// 再計算されるため、永続化に失敗したレコードが表に出ることはない。
func (s *Service) AddExpense(ctx context.Context, ownerID, rawAmount, category, note string) (*model.Expense, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(rawAmount))
	if err != nil || !amount.IsPositive() {
		return nil, model.NewInvalidAmountError(rawAmount)
	}
	// ストアの金額カラムは小数点以下2桁。それを超える精度は
	// ストア側で暗黙に丸められてしまうため、書き込み前に拒否する。
	if !amount.Equal(amount.Round(2)) {
		return nil, model.NewInvalidAmountError(rawAmount)
	}

	category = strings.TrimSpace(category)
	if category == "" {
		return nil, model.NewMissingCategoryError()
	}

	expense := &model.Expense{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Amount:    amount,
		Category:  category,
		Note:      s.sanitizer.Sanitize(note),
		CreatedAt: time.Now(),
	}

	if err := s.expenseRepo.Create(ctx, expense); err != nil {
		return nil, fmt.Errorf("failed to create expense: %w", err)
	}

	s.metrics.RecordExpenseWrite("add")
	return expense, nil
}

// DeleteExpense は支出レコードを削除する。
// ビューに存在しないIDでも削除リクエストはストアに送る（ストア側で冪等）。
func (s *Service) DeleteExpense(ctx context.Context, ownerID, id string) error {
	if err := s.expenseRepo.DeleteByOwnerAndID(ctx, ownerID, id); err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}

	s.metrics.RecordExpenseWrite("delete")
	return nil
}

// Snapshot はストアの最新状態からLedgerViewを全件再計算して返す。
func (s *Service) Snapshot(ctx context.Context, ownerID string) (*model.LedgerView, error) {
	start := time.Now()

	expenses, err := s.expenseRepo.ListByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	view := BuildView(ownerID, expenses, s.loc)
	s.metrics.RecordViewRecompute(time.Since(start))

	return view, nil
}
