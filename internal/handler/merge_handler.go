package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/kakeibo/internal/merge"
	"github.com/hitoshi/kakeibo/internal/model"
)

// MergeCoordinatorInterface は統合ハンドラーが必要とするコーディネーターのインターフェース。
type MergeCoordinatorInterface interface {
	Resolve(ctx context.Context, token, password string) (*merge.Result, error)
	Abandon(token string)
}

// MergeMetrics は統合ハンドラーが記録するメトリクスのインターフェース。
type MergeMetrics interface {
	RecordMergeOutcome(outcome string)
}

// MergeHandler はアカウント統合フローのHTTPハンドラー。
// 統合トークンはGoogleコールバックで設定されたHTTP Only Cookieから読み取る。
type MergeHandler struct {
	coordinator MergeCoordinatorInterface
	metrics     MergeMetrics
	config      AuthHandlerConfig
}

// NewMergeHandler はMergeHandlerを生成する。
func NewMergeHandler(coordinator MergeCoordinatorInterface, metrics MergeMetrics, config AuthHandlerConfig) *MergeHandler {
	return &MergeHandler{
		coordinator: coordinator,
		metrics:     metrics,
		config:      config,
	}
}

// resolveRequest は統合解決のリクエストボディ。
type resolveRequest struct {
	Password string `json:"password"`
}

// Resolve はパスワード再認証によりアカウント統合を完了する。
//
// パスワード不一致の場合は統合待ち状態を維持したまま401を返す
// （Cookieも残すため、ユーザーは再入力でやり直せる）。
// リンクに失敗しても再認証済みのセッションは有効で、
// その場合は警告付きの成功（200 + warning）として返す。
// POST /auth/merge
func (h *MergeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(mergeTokenCookie)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMergeNotPendingError())
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	result, err := h.coordinator.Resolve(r.Context(), cookie.Value, req.Password)
	if err != nil {
		h.recordFailure(err)
		// パスワード不一致は統合待ちを維持するためCookieを残す
		if apiErr, ok := asAPIError(err); !ok || apiErr.Code != model.ErrCodeMergeWrongPassword {
			h.clearMergeCookie(w)
		}
		handleServiceError(w, err)
		return
	}

	h.clearMergeCookie(w)
	h.setSessionCookie(w, result.Session.ID)

	if result.Warning != nil {
		// 安全な縮退状態: セッションは有効だがリンクは未完了
		h.metrics.RecordMergeOutcome("link_failed")
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"linked": false,
			"warning": apiErrorResponse{
				Code:     result.Warning.Code,
				Message:  result.Warning.Message,
				Category: result.Warning.Category,
				Action:   result.Warning.Action,
			},
		})
		return
	}

	h.metrics.RecordMergeOutcome("merged")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "linked": true})
}

// Abandon は統合フローを放棄する。
// 統合待ち認証情報を破棄し、ユーザーを未ログインのまま残す。
// DELETE /auth/merge
func (h *MergeHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(mergeTokenCookie)
	if err == nil && cookie.Value != "" {
		h.coordinator.Abandon(cookie.Value)
		h.metrics.RecordMergeOutcome("abandoned")
	}

	h.clearMergeCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *MergeHandler) recordFailure(err error) {
	apiErr, ok := asAPIError(err)
	if !ok {
		return
	}
	switch apiErr.Code {
	case model.ErrCodeMergeWrongPassword:
		h.metrics.RecordMergeOutcome("wrong_password")
	case model.ErrCodeMergeUnsupported:
		h.metrics.RecordMergeOutcome("unsupported")
	}
}

func (h *MergeHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
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

func (h *MergeHandler) clearMergeCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     mergeTokenCookie,
		Value:    "",
		Path:     "/auth/merge",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
