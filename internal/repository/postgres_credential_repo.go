package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kakeibo/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用した認証手段リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// ListKindsByUserID は指定ユーザーにリンク済みの認証手段種別を返す。
func (r *PostgresCredentialRepo) ListKindsByUserID(ctx context.Context, userID string) ([]model.CredentialKind, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind FROM credentials WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list credential kinds: %w", err)
	}
	defer rows.Close()

	var kinds []model.CredentialKind
	for rows.Next() {
		var kind model.CredentialKind
		if err := rows.Scan(&kind); err != nil {
			return nil, fmt.Errorf("failed to scan credential kind: %w", err)
		}
		kinds = append(kinds, kind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credential kinds: %w", err)
	}

	return kinds, nil
}

// FindPasswordByUserID は指定ユーザーのパスワード認証手段を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindPasswordByUserID(ctx context.Context, userID string) (*model.Credential, error) {
	cred := &model.Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, password_hash, provider, provider_user_id, created_at
		 FROM credentials
		 WHERE user_id = $1 AND kind = 'password'`,
		userID,
	).Scan(&cred.ID, &cred.UserID, &cred.Kind, &cred.PasswordHash, &cred.Provider, &cred.ProviderUserID, &cred.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find password credential: %w", err)
	}

	return cred, nil
}

// FindFederated はproviderとprovider_user_idで外部IdP認証手段を検索する。
// 見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindFederated(ctx context.Context, provider, providerUserID string) (*model.Credential, error) {
	cred := &model.Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, password_hash, provider, provider_user_id, created_at
		 FROM credentials
		 WHERE kind = 'federated' AND provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&cred.ID, &cred.UserID, &cred.Kind, &cred.PasswordHash, &cred.Provider, &cred.ProviderUserID, &cred.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find federated credential: %w", err)
	}

	return cred, nil
}

// LinkFederated は外部IdP認証手段をユーザーにリンクする。
// 同一の認証手段が既にリンク済みの場合は何もせず成功する（冪等）。
//
// 衝突対象は(user_id, kind)に限定する。同じ外部IDが別ユーザーに
// リンク済みの場合はcredentials_provider_uidxの一意制約違反として
// エラーで返り、成功扱いで握りつぶされることはない。
func (r *PostgresCredentialRepo) LinkFederated(ctx context.Context, cred *model.Credential) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (id, user_id, kind, password_hash, provider, provider_user_id, created_at)
		 VALUES ($1, $2, 'federated', '', $3, $4, $5)
		 ON CONFLICT (user_id, kind) DO NOTHING`,
		cred.ID, cred.UserID, cred.Provider, cred.ProviderUserID, cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to link federated credential: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read link result: %w", err)
	}
	if affected == 0 {
		// 既にリンク済み。同じ外部IDなら冪等な成功、別の外部IDが
		// リンクされているなら成功扱いにしない。
		existing, err := r.FindFederated(ctx, cred.Provider, cred.ProviderUserID)
		if err != nil {
			return err
		}
		if existing == nil || existing.UserID != cred.UserID {
			return fmt.Errorf("user %s already has a different federated credential linked", cred.UserID)
		}
	}

	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
