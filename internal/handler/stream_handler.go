package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/kakeibo/internal/ledger"
	"github.com/hitoshi/kakeibo/internal/middleware"
	"github.com/hitoshi/kakeibo/internal/store"
)

// streamHeartbeatInterval はSSE接続維持のためのコメント送信間隔。
const streamHeartbeatInterval = 30 * time.Second

// StreamHandler はLedgerViewのライブ配信を行うSSEハンドラー。
// 接続1本ごとに台帳ストリームを1つ開き、切断時に購読を解除する。
type StreamHandler struct {
	service  *ledger.Service
	notifier store.ChangeNotifier
	registry *StreamRegistry
	logger   *slog.Logger
}

// NewStreamHandler はStreamHandlerを生成する。
func NewStreamHandler(service *ledger.Service, notifier store.ChangeNotifier, registry *StreamRegistry, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		service:  service,
		notifier: notifier,
		registry: registry,
		logger:   logger,
	}
}

// Stream はSSEでLedgerViewを配信する。
// 接続直後に現在のスナップショットを1回送信し、以後はストアの
// 変更通知のたびに全件再計算したビューを送信する。
// GET /api/expenses/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.OwnerIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// ログアウトでセッションが破棄されたとき、このストリームも
	// 即座に止められるようセッションIDで登録しておく。
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if sessionID, sidErr := middleware.SessionIDFromContext(r.Context()); sidErr == nil {
		unregister := h.registry.Register(sessionID, cancel)
		defer unregister()
	}

	stream := ledger.NewStream(h.service, h.notifier, h.logger)
	stream.Start(ctx, ownerID)
	defer stream.Stop()

	h.logger.Info("ledger stream opened", slog.String("owner_id", ownerID))

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ledger stream closed", slog.String("owner_id", ownerID))
			return
		case view := <-stream.Views():
			data, err := json.Marshal(buildViewResponse(view))
			if err != nil {
				h.logger.Error("failed to marshal ledger view",
					slog.String("owner_id", ownerID),
					slog.String("error", err.Error()),
				)
				continue
			}
			fmt.Fprintf(w, "event: view\ndata: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			// プロキシにアイドル切断されないようコメント行を送る
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
