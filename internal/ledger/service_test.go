package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/kakeibo/internal/model"
	"github.com/hitoshi/kakeibo/internal/repository"
	"github.com/hitoshi/kakeibo/internal/security"
	"github.com/shopspring/decimal"
)

// --- モック定義 ---

type mockExpenseRepo struct {
	createFn           func(ctx context.Context, expense *model.Expense) error
	deleteByOwnerAndID func(ctx context.Context, ownerID, id string) error
	listByOwnerIDFn    func(ctx context.Context, ownerID string) ([]model.Expense, error)
}

func (m *mockExpenseRepo) Create(ctx context.Context, expense *model.Expense) error {
	if m.createFn != nil {
		return m.createFn(ctx, expense)
	}
	return nil
}

func (m *mockExpenseRepo) DeleteByOwnerAndID(ctx context.Context, ownerID, id string) error {
	if m.deleteByOwnerAndID != nil {
		return m.deleteByOwnerAndID(ctx, ownerID, id)
	}
	return nil
}

func (m *mockExpenseRepo) ListByOwnerID(ctx context.Context, ownerID string) ([]model.Expense, error) {
	if m.listByOwnerIDFn != nil {
		return m.listByOwnerIDFn(ctx, ownerID)
	}
	return nil, nil
}

type mockSanitizer struct {
	sanitizeFn func(raw string) string
}

func (m *mockSanitizer) Sanitize(raw string) string {
	if m.sanitizeFn != nil {
		return m.sanitizeFn(raw)
	}
	return raw
}

type mockMetrics struct {
	writes     []string
	recomputes int
	subs       int
}

func (m *mockMetrics) RecordExpenseWrite(op string)          { m.writes = append(m.writes, op) }
func (m *mockMetrics) RecordViewRecompute(_ time.Duration)   { m.recomputes++ }
func (m *mockMetrics) IncStreamSubscribers()                 { m.subs++ }
func (m *mockMetrics) DecStreamSubscribers()                 { m.subs-- }

// --- compile-time interface checks ---
var _ repository.ExpenseRepository = (*mockExpenseRepo)(nil)
var _ security.NoteSanitizerService = (*mockSanitizer)(nil)
var _ Metrics = (*mockMetrics)(nil)

func newTestService(repo *mockExpenseRepo, sanitizer *mockSanitizer, metrics *mockMetrics) *Service {
	if repo == nil {
		repo = &mockExpenseRepo{}
	}
	if sanitizer == nil {
		sanitizer = &mockSanitizer{}
	}
	if metrics == nil {
		metrics = &mockMetrics{}
	}
	return NewService(repo, sanitizer, metrics, time.UTC)
}

// --- テスト ---

func TestAddExpense_CreatesSanitizedRecord(t *testing.T) {
	ctx := context.Background()

	var created *model.Expense
	repo := &mockExpenseRepo{
		createFn: func(ctx context.Context, expense *model.Expense) error {
			created = expense
			return nil
		},
	}
	sanitizer := &mockSanitizer{
		sanitizeFn: func(raw string) string { return "sanitized:" + raw },
	}
	metrics := &mockMetrics{}

	svc := newTestService(repo, sanitizer, metrics)

	expense, err := svc.AddExpense(ctx, "owner-1", "1200", "Food", "lunch")
	if err != nil {
		t.Fatalf("AddExpense() error = %v", err)
	}

	if created == nil {
		t.Fatal("expected expense to be created")
	}
	if created.OwnerID != "owner-1" {
		t.Errorf("ownerID = %q, want %q", created.OwnerID, "owner-1")
	}
	if !created.Amount.Equal(decimal.RequireFromString("1200")) {
		t.Errorf("amount = %s, want 1200", created.Amount)
	}
	if created.Note != "sanitized:lunch" {
		t.Errorf("note = %q, want sanitized note", created.Note)
	}
	if expense.ID == "" {
		t.Error("expected non-empty expense ID")
	}

	if len(metrics.writes) != 1 || metrics.writes[0] != "add" {
		t.Errorf("recorded writes = %v, want [add]", metrics.writes)
	}
}

func TestAddExpense_InvalidAmount_NeverTouchesStore(t *testing.T) {
	ctx := context.Background()

	storeCalled := false
	repo := &mockExpenseRepo{
		createFn: func(ctx context.Context, expense *model.Expense) error {
			storeCalled = true
			return nil
		},
	}
	svc := newTestService(repo, nil, nil)

	for _, amount := range []string{"", "abc", "0", "-5", "  "} {
		_, err := svc.AddExpense(ctx, "owner-1", amount, "Food", "")

		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidAmount {
			t.Errorf("amount %q: expected %s, got %v", amount, model.ErrCodeInvalidAmount, err)
		}
	}

	if storeCalled {
		t.Error("expected store to never be called for invalid amounts")
	}
}

// ストアの金額カラムはNUMERIC(12,2)。小数点以下3桁以上の金額をそのまま
// 書き込むと暗黙に丸められて入力と一致しなくなるため、ローカル検証で拒否する。
func TestAddExpense_SubCentPrecision_RejectedBeforeStore(t *testing.T) {
	ctx := context.Background()

	storeCalled := false
	repo := &mockExpenseRepo{
		createFn: func(ctx context.Context, expense *model.Expense) error {
			storeCalled = true
			return nil
		},
	}
	svc := newTestService(repo, nil, nil)

	tests := []struct {
		amount  string
		wantErr bool
	}{
		// 丸めで値が変わる入力は拒否
		{"10.005", true},
		{"0.001", true},
		{"99.999", true},
		// 末尾ゼロは2桁で正確に表現できるため許容
		{"10.1000", false},
		{"10.10", false},
		{"10", false},
	}

	for _, tt := range tests {
		_, err := svc.AddExpense(ctx, "owner-1", tt.amount, "Food", "")

		if tt.wantErr {
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidAmount {
				t.Errorf("amount %q: expected %s, got %v", tt.amount, model.ErrCodeInvalidAmount, err)
			}
		} else if err != nil {
			t.Errorf("amount %q: unexpected error %v", tt.amount, err)
		}
	}

	if !storeCalled {
		t.Error("expected store to be called for the valid amounts")
	}
}

func TestAddExpense_MissingCategory_ReturnsError(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	_, err := svc.AddExpense(context.Background(), "owner-1", "100", "   ", "")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeMissingCategory {
		t.Fatalf("expected %s, got %v", model.ErrCodeMissingCategory, err)
	}
}

func TestAddExpense_StoreError_ReturnsError(t *testing.T) {
	repo := &mockExpenseRepo{
		createFn: func(ctx context.Context, expense *model.Expense) error {
			return errors.New("store unavailable")
		},
	}
	metrics := &mockMetrics{}
	svc := newTestService(repo, nil, metrics)

	_, err := svc.AddExpense(context.Background(), "owner-1", "100", "Food", "")
	if err == nil {
		t.Fatal("expected error from store failure")
	}
	if len(metrics.writes) != 0 {
		t.Error("expected no write metric on failure")
	}
}

func TestDeleteExpense_DelegatesToStore(t *testing.T) {
	var deletedOwner, deletedID string
	repo := &mockExpenseRepo{
		deleteByOwnerAndID: func(ctx context.Context, ownerID, id string) error {
			deletedOwner, deletedID = ownerID, id
			return nil
		},
	}
	metrics := &mockMetrics{}
	svc := newTestService(repo, nil, metrics)

	if err := svc.DeleteExpense(context.Background(), "owner-1", "expense-1"); err != nil {
		t.Fatalf("DeleteExpense() error = %v", err)
	}

	if deletedOwner != "owner-1" || deletedID != "expense-1" {
		t.Errorf("deleted (%q, %q), want (owner-1, expense-1)", deletedOwner, deletedID)
	}
	if len(metrics.writes) != 1 || metrics.writes[0] != "delete" {
		t.Errorf("recorded writes = %v, want [delete]", metrics.writes)
	}
}

func TestSnapshot_BuildsViewFromStore(t *testing.T) {
	now := time.Now()
	repo := &mockExpenseRepo{
		listByOwnerIDFn: func(ctx context.Context, ownerID string) ([]model.Expense, error) {
			return []model.Expense{
				{ID: "e1", OwnerID: ownerID, Amount: decimal.RequireFromString("30"), Category: "Food", CreatedAt: now},
			}, nil
		},
	}
	metrics := &mockMetrics{}
	svc := newTestService(repo, nil, metrics)

	view, err := svc.Snapshot(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	if view.OwnerID != "owner-1" || len(view.Expenses) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if !view.Total.Equal(decimal.RequireFromString("30")) {
		t.Errorf("total = %s, want 30", view.Total)
	}
	if metrics.recomputes != 1 {
		t.Errorf("recompute metric = %d, want 1", metrics.recomputes)
	}
}
