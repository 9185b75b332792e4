package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kakeibo/internal/middleware"
	"github.com/hitoshi/kakeibo/internal/model"
)

// ExpenseServiceInterface は支出ハンドラーが必要とするサービスインターフェース。
type ExpenseServiceInterface interface {
	AddExpense(ctx context.Context, ownerID, rawAmount, category, note string) (*model.Expense, error)
	DeleteExpense(ctx context.Context, ownerID, id string) error
	Snapshot(ctx context.Context, ownerID string) (*model.LedgerView, error)
}

// ExpenseHandler は支出台帳のHTTPハンドラー。
type ExpenseHandler struct {
	service ExpenseServiceInterface
}

// NewExpenseHandler はExpenseHandlerを生成する。
func NewExpenseHandler(service ExpenseServiceInterface) *ExpenseHandler {
	return &ExpenseHandler{service: service}
}

// addExpenseRequest は支出作成のリクエストボディ。
// amountは数値・文字列のどちらでも受け付け、検証はサービス層で行う。
type addExpenseRequest struct {
	Amount   json.RawMessage `json:"amount"`
	Category string          `json:"category"`
	Note     string          `json:"note"`
}

// expenseResponse は支出レコード1件のJSON表現。
// 金額は精度を保つため文字列で返す。
type expenseResponse struct {
	ID        string    `json:"id"`
	Amount    string    `json:"amount"`
	Category  string    `json:"category"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// viewResponse はLedgerViewのJSON表現。
type viewResponse struct {
	OwnerID       string            `json:"owner_id"`
	Expenses      []expenseResponse `json:"expenses"`
	CategoryTotal map[string]string `json:"category_total"`
	DailyTotal    map[string]string `json:"daily_total"`
	Total         string            `json:"total"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// buildViewResponse はLedgerViewをJSON表現に変換する。
// SSEストリームでも同じ表現を使う。
func buildViewResponse(view *model.LedgerView) viewResponse {
	expenses := make([]expenseResponse, 0, len(view.Expenses))
	for _, e := range view.Expenses {
		expenses = append(expenses, expenseResponse{
			ID:        e.ID,
			Amount:    e.Amount.String(),
			Category:  e.Category,
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}

	categoryTotal := make(map[string]string, len(view.CategoryTotal))
	for k, v := range view.CategoryTotal {
		categoryTotal[k] = v.String()
	}
	dailyTotal := make(map[string]string, len(view.DailyTotal))
	for k, v := range view.DailyTotal {
		dailyTotal[k] = v.String()
	}

	return viewResponse{
		OwnerID:       view.OwnerID,
		Expenses:      expenses,
		CategoryTotal: categoryTotal,
		DailyTotal:    dailyTotal,
		Total:         view.Total.String(),
		GeneratedAt:   view.GeneratedAt,
	}
}

// List は最新スナップショットから再計算したLedgerViewを返す。
// GET /api/expenses
func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.OwnerIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	view, err := h.service.Snapshot(r.Context(), ownerID)
	if err != nil {
		slog.Error("failed to build ledger view", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, buildViewResponse(view))
}

// Add は支出レコードを作成する。
// 作成結果はレスポンスで返すが、ビューの更新はストアの変更通知に任せる
// （ローカルの楽観的更新はしない）。
// POST /api/expenses
func (h *ExpenseHandler) Add(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.OwnerIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	var req addExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	// amountは "120" と 120 のどちらの形でも受け付ける
	rawAmount := strings.Trim(strings.TrimSpace(string(req.Amount)), `"`)

	expense, err := h.service.AddExpense(r.Context(), ownerID, rawAmount, req.Category, req.Note)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, expenseResponse{
		ID:        expense.ID,
		Amount:    expense.Amount.String(),
		Category:  expense.Category,
		Note:      expense.Note,
		CreatedAt: expense.CreatedAt,
	})
}

// Delete は支出レコードを削除する。
// 存在しないIDでも204を返す（削除は冪等）。
// DELETE /api/expenses/{id}
func (h *ExpenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.OwnerIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewExpenseNotFoundError(id))
		return
	}

	if err := h.service.DeleteExpense(r.Context(), ownerID, id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
