package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/kakeibo/internal/model"
	"github.com/hitoshi/kakeibo/internal/store"
)

// Stream は1つの接続クライアントに対する台帳のライブ購読を表す。
//
// 不変条件: ストアへの購読は常に最大1つで、その購読のオーナーIDは
// 現在のセッションのオーナーIDと一致する。Startは新しい購読を開く前に
// 前の購読を同期的に解除する。Stopの後は、旧購読宛ての遅延通知が
// 届いてもViewChangedは発行されない。
type Stream struct {
	svc      *Service
	notifier store.ChangeNotifier
	logger   *slog.Logger
	views    chan *model.LedgerView

	mu      sync.Mutex
	current *subscription
}

// subscription は1世代分のストア購読を表す。
type subscription struct {
	ownerID string
	unsub   store.Unsubscribe
	kick    chan struct{}
	done    chan struct{}
}

// NewStream はStreamを生成する。
func NewStream(svc *Service, notifier store.ChangeNotifier, logger *slog.Logger) *Stream {
	return &Stream{
		svc:      svc,
		notifier: notifier,
		logger:   logger,
		views:    make(chan *model.LedgerView, 1),
	}
}

// Views はViewChangedの配信チャネルを返す。
// 消費が追いつかない場合は古いビューを捨てて最新だけを保持する。
func (s *Stream) Views() <-chan *model.LedgerView {
	return s.views
}

// Start は指定オーナーの購読を開始する。
// 既存の購読がある場合は、新しい購読を開く前に同期的に解除する。
// 開始直後に現在のスナップショットを1回配信し、以後はストアの
// 変更通知のたびに全件再計算したビューを配信する。
func (s *Stream) Start(ctx context.Context, ownerID string) {
	s.mu.Lock()
	s.stopLocked()

	sub := &subscription{
		ownerID: ownerID,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	// 通知はノンブロッキングで受け、未処理の通知は1件に合流させる。
	// どのみち全件再計算なので、届いた回数に意味はない。
	sub.unsub = s.notifier.Subscribe(ownerID, func() {
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	})
	s.current = sub
	s.svc.metrics.IncStreamSubscribers()
	s.mu.Unlock()

	go s.run(ctx, sub)
}

// Stop は購読を解除する。ログアウト時と再購読の前に呼ばれる。
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopLocked は現在の購読を解除する。muを保持して呼ぶこと。
func (s *Stream) stopLocked() {
	if s.current == nil {
		return
	}
	s.current.unsub()
	close(s.current.done)
	s.current = nil
	s.svc.metrics.DecStreamSubscribers()
}

// run は購読1世代分の配信ループ。
func (s *Stream) run(ctx context.Context, sub *subscription) {
	// 開始直後のスナップショット
	s.recompute(ctx, sub)

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-sub.done:
			return
		case <-sub.kick:
			s.recompute(ctx, sub)
		}
	}
}

// recompute は最新スナップショットからビューを再計算して配信する。
// 再計算中に購読が解除されていた場合は配信しない（遅延通知ガード）。
func (s *Stream) recompute(ctx context.Context, sub *subscription) {
	view, err := s.svc.Snapshot(ctx, sub.ownerID)
	if err != nil {
		// 通知起点の再計算失敗はこの1回の配信を見送るだけで、購読自体は維持する。
		// 次の変更通知で再び最新状態に追いつく。
		s.logger.Error("failed to recompute ledger view",
			slog.String("owner_id", sub.ownerID),
			slog.String("error", err.Error()),
		)
		return
	}

	// 鮮度判定と配信はmuを保持したまま一体で行う。判定と配信の間に
	// Stopが割り込むと、解除済み購読のビューが配信されてしまうため。
	// 配信はノンブロッキングなのでロック保持のまま送ってよい。
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != sub {
		return
	}

	// 最新のビューだけを保持する（バッファ1、古いものは捨てる）
	select {
	case s.views <- view:
	default:
		select {
		case <-s.views:
		default:
		}
		select {
		case s.views <- view:
		default:
		}
	}
}
