// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/kakeibo/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	// メールアドレスは小文字に正規化して保存されている前提。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithCredential はユーザーと初期認証手段を同一トランザクションで作成する。
	CreateWithCredential(ctx context.Context, user *model.User, cred *model.Credential) error
}

// CredentialRepository は認証手段の永続化インターフェース。
type CredentialRepository interface {
	// ListKindsByUserID は指定ユーザーにリンク済みの認証手段種別を返す。
	ListKindsByUserID(ctx context.Context, userID string) ([]model.CredentialKind, error)

	// FindPasswordByUserID は指定ユーザーのパスワード認証手段を取得する。
	// 見つからない場合はnilを返す。
	FindPasswordByUserID(ctx context.Context, userID string) (*model.Credential, error)

	// FindFederated はproviderとprovider_user_idで外部IdP認証手段を検索する。
	// 見つからない場合はnilを返す。
	FindFederated(ctx context.Context, provider, providerUserID string) (*model.Credential, error)

	// LinkFederated は外部IdP認証手段をユーザーにリンクする。
	// 同一の認証手段が既にリンク済みの場合は何もせず成功する（冪等）。
	LinkFederated(ctx context.Context, cred *model.Credential) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ExpenseRepository は支出レコードの永続化インターフェース。
type ExpenseRepository interface {
	// Create は支出レコードを作成する。seqはストア側で採番される。
	Create(ctx context.Context, expense *model.Expense) error

	// DeleteByOwnerAndID はオーナーIDとレコードIDで支出レコードを削除する。
	// 対象が存在しない場合もエラーにしない（ストア側で冪等）。
	DeleteByOwnerAndID(ctx context.Context, ownerID, id string) error

	// ListByOwnerID はオーナーの全支出レコードをcreated_at降順（同時刻はseq降順）で返す。
	ListByOwnerID(ctx context.Context, ownerID string) ([]model.Expense, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
