package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/kakeibo/internal/auth"
	"github.com/hitoshi/kakeibo/internal/model"
	"github.com/hitoshi/kakeibo/internal/repository"
)

// SessionIssuer はセッション発行のインターフェース。auth.Serviceが実装する。
type SessionIssuer interface {
	IssueSession(ctx context.Context, userID string) (*model.Session, error)
}

// Result は統合解決の結果を表す。
// Warningが設定されている場合、再認証には成功したがリンクに失敗しており、
// セッションはパスワード認証のみの状態で有効（安全な縮退状態）。
type Result struct {
	Session *model.Session
	Warning *model.APIError
}

// Coordinator は2つの認証手段（パスワードと外部IdP）を1つのユーザーに統合する。
//
// 防いでいるのは次のデータ消失。パスワード登録ユーザー（owner id = A）が
// 後から同じメールアドレスでGoogleログインすると、素朴な実装では別ユーザー
// （owner id = B）が作られ、Aの支出レコードが見えなくなる。統合では常に
// パスワード側のユーザーが正本として生き残り、外部IdPがそこにリンクされる。
// 一度統合されれば、以後どちらの認証手段でも同じowner idに解決される。
type Coordinator struct {
	userRepo repository.UserRepository
	credRepo repository.CredentialRepository
	sessions SessionIssuer
	pending  *PendingStore
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(
	userRepo repository.UserRepository,
	credRepo repository.CredentialRepository,
	sessions SessionIssuer,
	pending *PendingStore,
) *Coordinator {
	return &Coordinator{
		userRepo: userRepo,
		credRepo: credRepo,
		sessions: sessions,
		pending:  pending,
	}
}

// Begin は統合待ち認証情報を登録し、統合フロー用のトークンを返す。
// 統合先ユーザーにパスワード認証が存在しない場合（別のIdPのみ等）は
// 推測で統合せず、エラーを返して中断する。
func (c *Coordinator) Begin(ctx context.Context, pending model.PendingCredential) (string, error) {
	user, err := c.userRepo.FindByEmail(ctx, pending.Email)
	if err != nil {
		return "", fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("no user found for merge target email")
	}

	kinds, err := c.credRepo.ListKindsByUserID(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list credential kinds: %w", err)
	}

	hasPassword := false
	for _, k := range kinds {
		if k == model.CredentialKindPassword {
			hasPassword = true
		}
	}
	if !hasPassword {
		return "", model.NewMergeUnsupportedKindError()
	}

	token, err := c.pending.Put(pending)
	if err != nil {
		return "", fmt.Errorf("failed to store pending credential: %w", err)
	}

	return token, nil
}

// Resolve はパスワード再認証により統合を完了する。
//
// パスワード不一致の場合、統合待ち情報は保持したままエラーを返す
// （ユーザーによる再入力で回復可能。自動リトライはしない）。
// パスワード一致後は、リンク試行より先にセッションを発行する。
// 支出ストリームの再購読が正本のowner idで行われることを保証するための順序で、
// リンクに失敗してもセッションはパスワード認証のみの状態で有効のまま返す。
func (c *Coordinator) Resolve(ctx context.Context, token, password string) (*Result, error) {
	pc, ok := c.pending.Get(token)
	if !ok {
		return nil, model.NewMergeNotPendingError()
	}

	user, err := c.userRepo.FindByEmail(ctx, pc.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		c.pending.Delete(token)
		return nil, model.NewMergeNotPendingError()
	}

	cred, err := c.credRepo.FindPasswordByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find password credential: %w", err)
	}
	if cred == nil {
		c.pending.Delete(token)
		return nil, model.NewMergeUnsupportedKindError()
	}

	if !auth.VerifyPassword(cred.PasswordHash, password) {
		return nil, model.NewMergeWrongPasswordError()
	}

	session, err := c.sessions.IssueSession(ctx, user.ID)
	if err != nil {
		// 統合待ち情報は保持したまま返す。発行の一時失敗なら
		// OAuthをやり直さずに同じトークンで再試行できる。
		return nil, err
	}

	// セッション発行まで成功した時点で統合待ち情報は役目を終える。
	c.pending.Delete(token)

	linkErr := c.credRepo.LinkFederated(ctx, &model.Credential{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Kind:           model.CredentialKindFederated,
		Provider:       pc.Provider,
		ProviderUserID: pc.ProviderUserID,
		CreatedAt:      time.Now(),
	})
	if linkErr != nil {
		slog.Error("federated credential link failed after re-authentication",
			slog.String("user_id", user.ID),
			slog.String("provider", pc.Provider),
			slog.String("error", linkErr.Error()),
		)
		return &Result{Session: session, Warning: model.NewMergeLinkFailedError()}, nil
	}

	slog.Info("credentials merged",
		slog.String("user_id", user.ID),
		slog.String("provider", pc.Provider),
	)

	return &Result{Session: session}, nil
}

// Abandon は統合フローを放棄し、統合待ち認証情報を破棄する。
func (c *Coordinator) Abandon(token string) {
	c.pending.Delete(token)
}

// compile-time interface check
var _ auth.MergeStarter = (*Coordinator)(nil)
