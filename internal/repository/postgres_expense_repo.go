package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kakeibo/internal/model"
)

// PostgresExpenseRepo はPostgreSQLを使用した支出レコードリポジトリ。
type PostgresExpenseRepo struct {
	db *sql.DB
}

// NewPostgresExpenseRepo はPostgresExpenseRepoを生成する。
func NewPostgresExpenseRepo(db *sql.DB) *PostgresExpenseRepo {
	return &PostgresExpenseRepo{db: db}
}

// Create は支出レコードを作成する。seqはストア側で採番される。
// INSERTによりexpensesテーブルのトリガーがpg_notifyで変更通知を発行する。
func (r *PostgresExpenseRepo) Create(ctx context.Context, expense *model.Expense) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO expenses (id, owner_id, amount, category, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING seq`,
		expense.ID, expense.OwnerID, expense.Amount, expense.Category, expense.Note, expense.CreatedAt,
	).Scan(&expense.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

// DeleteByOwnerAndID はオーナーIDとレコードIDで支出レコードを削除する。
// 対象が存在しない場合もエラーにしない（ストア側で冪等）。
func (r *PostgresExpenseRepo) DeleteByOwnerAndID(ctx context.Context, ownerID, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE owner_id = $1 AND id = $2`,
		ownerID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	return nil
}

// ListByOwnerID はオーナーの全支出レコードをcreated_at降順（同時刻はseq降順）で返す。
func (r *PostgresExpenseRepo) ListByOwnerID(ctx context.Context, ownerID string) ([]model.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, seq, amount, category, note, created_at
		 FROM expenses
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, seq DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []model.Expense
	for rows.Next() {
		var e model.Expense
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Seq, &e.Amount, &e.Category, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	return expenses, nil
}

// compile-time interface check
var _ ExpenseRepository = (*PostgresExpenseRepo)(nil)
