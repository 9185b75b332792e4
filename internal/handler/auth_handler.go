package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kakeibo/internal/auth"
	"github.com/hitoshi/kakeibo/internal/model"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"
	mergeTokenCookie  = "merge_token"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	SignupWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	LoginWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	HandleGoogleCallback(ctx context.Context, code string) (*auth.CallbackResult, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentIdentity(ctx context.Context, sessionID string) (*model.SessionIdentity, error)
}

// AuthMetrics は認証ハンドラーが記録するメトリクスのインターフェース。
type AuthMetrics interface {
	RecordLogin(method, outcome string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
	MergeMaxAge   int // 統合トークンCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
// パスワード認証とGoogle OAuthの両方を受け持つ。
type AuthHandler struct {
	service AuthServiceInterface
	metrics AuthMetrics
	streams *StreamRegistry
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, metrics AuthMetrics, streams *StreamRegistry, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		metrics: metrics,
		streams: streams,
		config:  config,
	}
}

// credentialRequest はパスワード認証のリクエストボディ。
type credentialRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup はメールアドレス+パスワードでユーザーを登録する。
// 成功すると暗黙のログインとしてセッションCookieを設定する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	session, err := h.service.SignupWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordLogin("signup", "failure")
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordLogin("signup", "success")
	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

// PasswordLogin はメールアドレス+パスワードでログインする。
// 失敗はエラーを1回返すのみで、サーバー側での自動リトライはしない。
// POST /auth/login
func (h *AuthHandler) PasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	session, err := h.service.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordLogin("password", "failure")
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordLogin("password", "success")
	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	url := h.service.GetLoginURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
//
// 認証手段の衝突（同じメールアドレスがパスワードで登録済み）が検出された場合、
// セッションは発行せず統合トークンをCookieに載せて統合画面へリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// stateクッキーを削除
	h.clearCookie(w, oauthStateCookie)

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	// 3. 認証処理
	result, err := h.service.HandleGoogleCallback(r.Context(), code)
	if err != nil {
		h.metrics.RecordLogin("federated", "failure")
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			// 統合不能（パスワード認証が未登録）等はフロントのエラー画面へ
			slog.Warn("google callback rejected", slog.String("code", apiErr.Code))
			http.Redirect(w, r, h.config.BaseURL+"/login?error="+apiErr.Code, http.StatusTemporaryRedirect)
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	// 4a. 衝突検出: 統合フローへ。セッションCookieは設定しない。
	if result.MergeToken != "" {
		h.metrics.RecordLogin("federated", "merge_required")
		http.SetCookie(w, &http.Cookie{
			Name:     mergeTokenCookie,
			Value:    result.MergeToken,
			Path:     "/auth/merge",
			Domain:   h.config.CookieDomain,
			MaxAge:   h.config.MergeMaxAge,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, h.config.BaseURL+"/merge", http.StatusTemporaryRedirect)
		return
	}

	// 4b. 通常ログイン: セッションCookieを設定してフロントエンドへ
	h.metrics.RecordLogin("federated", "success")
	h.setSessionCookie(w, result.Session.ID)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// セッションCookieの取得
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		// セッションをDBから削除
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
		// このセッションが開いているSSEストリームを即座に停止する
		h.streams.CancelSession(cookie.Value)
	}

	h.clearCookie(w, sessionCookieName)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログイン身元情報を返す。
// リンク済みの認証手段種別（password/federated）を含む。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	identity, err := h.service.CurrentIdentity(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to get current identity", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	kinds := make([]string, 0, len(identity.CredentialKinds))
	for _, k := range identity.CredentialKinds {
		kinds = append(kinds, string(k))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner_id":         identity.OwnerID,
		"email":            identity.Email,
		"name":             identity.Name,
		"credential_kinds": kinds,
	})
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie は指定した名前のCookieを削除する。
func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	path := "/"
	if name == mergeTokenCookie {
		path = "/auth/merge"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
