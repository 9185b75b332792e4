// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IDは支出レコードのパーティションキー（owner id）であり、
// 認証手段を後からリンクしても変化しない安定識別子。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CredentialKind は認証手段の種別を表す。
type CredentialKind string

const (
	// CredentialKindPassword はメールアドレス+パスワードによる認証。
	CredentialKindPassword CredentialKind = "password"
	// CredentialKindFederated は外部IdP（Google等）による認証。
	CredentialKindFederated CredentialKind = "federated"
)

// Credential はユーザーに紐付く認証手段を表す。
// password種別はPasswordHashを保持し、Provider系フィールドは空。
// federated種別はProviderとProviderUserIDを保持する。
// 1ユーザーは各種別の認証手段を最大1つずつ持つ。
type Credential struct {
	ID             string
	UserID         string
	Kind           CredentialKind
	PasswordHash   string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// PendingCredential は統合待ちの外部IdP認証情報を表す。
// 同一メールアドレスが別の認証手段で登録済みだった場合に一時的に保持され、
// 統合の完了または放棄とともに破棄される。
type PendingCredential struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionIdentity は現在ログイン中の身元情報を表す。
// /auth/me のレスポンスと統合確認フローで使用される。
type SessionIdentity struct {
	OwnerID         string
	Email           string
	Name            string
	CredentialKinds []CredentialKind
}

// HasKind は指定種別の認証手段がリンク済みかどうかを返す。
func (si *SessionIdentity) HasKind(kind CredentialKind) bool {
	for _, k := range si.CredentialKinds {
		if k == kind {
			return true
		}
	}
	return false
}
