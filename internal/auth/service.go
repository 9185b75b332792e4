// Package auth は認証フローとセッション管理を提供する。
//
// ログイン状態は次の状態機械に従う。
//
//	Anonymous → Authenticating → Authenticated（成功）
//	Authenticating → Anonymous（通常の失敗。自動リトライはしない）
//	Authenticating → MergePending（メールアドレスが別の認証手段で登録済み）
//	MergePending → Authenticated（統合コーディネーターによるリンク完了）
//	Authenticated → Anonymous（ログアウト）
//
// Authenticatedはセッションレコード+Cookieの存在、MergePendingは
// 統合待ち認証情報（PendingCredential）の存在として表現される。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/kakeibo/internal/model"
	"github.com/hitoshi/kakeibo/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// MergeStarter は認証手段の衝突を統合フローに引き渡すインターフェース。
// merge.Coordinatorが実装する。
type MergeStarter interface {
	// Begin は統合待ち認証情報を登録し、統合フロー用のトークンを返す。
	// 統合先にパスワード認証が存在しない場合はエラーを返す。
	Begin(ctx context.Context, pending model.PendingCredential) (string, error)
}

// MergeStarterFunc は関数をMergeStarterとして使うためのアダプタ。
// 相互参照する依存の組み立て順序を解決するために使う。
type MergeStarterFunc func(ctx context.Context, pending model.PendingCredential) (string, error)

// Begin はMergeStarterを実装する。
func (f MergeStarterFunc) Begin(ctx context.Context, pending model.PendingCredential) (string, error) {
	return f(ctx, pending)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge     int // セッション有効期間（秒）
	PasswordMinLength int // パスワードの最小文字数
}

// CallbackResult はOAuthコールバック処理の結果を表す。
// SessionとMergeTokenは排他で、衝突が検出された場合のみMergeTokenが設定される。
type CallbackResult struct {
	Session    *model.Session
	MergeToken string
	MergeEmail string
}

// Service は認証に関するビジネスロジックを提供する。
// 「誰がログインしているか」の唯一の情報源として、すべての状態遷移を仲介する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	credRepo    repository.CredentialRepository
	sessionRepo repository.SessionRepository
	merge       MergeStarter
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	credRepo repository.CredentialRepository,
	sessionRepo repository.SessionRepository,
	merge MergeStarter,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		credRepo:    credRepo,
		sessionRepo: sessionRepo,
		merge:       merge,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// SignupWithPassword はメールアドレス+パスワードでユーザーを登録する。
// 成功した場合は暗黙のログインとしてセッションを発行する。
func (s *Service) SignupWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return nil, model.NewInvalidEmailError()
	}
	if len(password) < s.config.PasswordMinLength {
		return nil, model.NewWeakPasswordError(s.config.PasswordMinLength)
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailInUseError()
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cred := &model.Credential{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Kind:         model.CredentialKindPassword,
		PasswordHash: hash,
		CreatedAt:    now,
	}

	if err := s.userRepo.CreateWithCredential(ctx, user, cred); err != nil {
		return nil, fmt.Errorf("failed to create user and credential: %w", err)
	}

	slog.Info("new user signed up",
		slog.String("user_id", user.ID),
		slog.String("email", email),
	)

	return s.IssueSession(ctx, user.ID)
}

// LoginWithPassword はメールアドレス+パスワードでログインする。
// 失敗した場合は自動リトライせず、エラーを1回だけ返す。
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return nil, model.NewInvalidEmailError()
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	cred, err := s.credRepo.FindPasswordByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find password credential: %w", err)
	}
	if cred == nil || !VerifyPassword(cred.PasswordHash, password) {
		return nil, model.NewInvalidCredentialError()
	}

	slog.Info("user logged in with password",
		slog.String("user_id", user.ID),
	)

	return s.IssueSession(ctx, user.ID)
}

// HandleGoogleCallback はOAuthコールバックを処理する。
//
// 外部IdPアカウントがリンク済みならそのユーザーとしてログインする。
// 未知のアカウントでメールアドレスも未登録なら新規ユーザーを作成する。
// メールアドレスが別の認証手段で登録済みなら、エラーではなく
// 統合フロー（MergeToken）に引き渡す。この1箇所だけは失敗を
// 状態遷移として扱い、ユーザーデータの分断（別オーナーIDでの二重管理）を防ぐ。
func (s *Service) HandleGoogleCallback(ctx context.Context, code string) (*CallbackResult, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	email := NormalizeEmail(userInfo.Email)

	// 1. リンク済みの外部IdPアカウントならそのユーザーとしてログイン
	cred, err := s.credRepo.FindFederated(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find federated credential: %w", err)
	}
	if cred != nil {
		slog.Info("existing user logged in with federated provider",
			slog.String("user_id", cred.UserID),
			slog.String("provider", userInfo.Provider),
		)
		session, err := s.IssueSession(ctx, cred.UserID)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{Session: session}, nil
	}

	// 2. メールアドレスの登録状況を確認
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if user == nil {
		// 3a. 新規ユーザー: usersレコードとfederated認証手段を同時に作成
		now := time.Now()
		newUser := &model.User{
			ID:        uuid.New().String(),
			Email:     email,
			Name:      userInfo.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		newCred := &model.Credential{
			ID:             uuid.New().String(),
			UserID:         newUser.ID,
			Kind:           model.CredentialKindFederated,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      now,
		}

		if err := s.userRepo.CreateWithCredential(ctx, newUser, newCred); err != nil {
			return nil, fmt.Errorf("failed to create user and credential: %w", err)
		}

		slog.Info("new user created from federated login",
			slog.String("user_id", newUser.ID),
			slog.String("provider", userInfo.Provider),
		)

		session, err := s.IssueSession(ctx, newUser.ID)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{Session: session}, nil
	}

	// 3b. 衝突: 同じメールアドレスが別の認証手段で登録済み。
	// 統合フローに引き渡す。ここでセッションは発行しない。
	token, err := s.merge.Begin(ctx, model.PendingCredential{
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		Email:          email,
		Name:           userInfo.Name,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("credential collision detected, merge pending",
		slog.String("user_id", user.ID),
		slog.String("provider", userInfo.Provider),
	)

	return &CallbackResult{MergeToken: token, MergeEmail: email}, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// CurrentIdentity はセッションから現在の身元情報を取得する。
// リンク済みの認証手段種別を含む。
func (s *Service) CurrentIdentity(ctx context.Context, sessionID string) (*model.SessionIdentity, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	kinds, err := s.credRepo.ListKindsByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credential kinds: %w", err)
	}

	return &model.SessionIdentity{
		OwnerID:         user.ID,
		Email:           user.Email,
		Name:            user.Name,
		CredentialKinds: kinds,
	}, nil
}

// IssueSession はセッションを作成し永続化する。
// 統合コーディネーターもこのメソッドでセッションを発行する。
func (s *Service) IssueSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
