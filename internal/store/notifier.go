// Package store は支出ストアの変更通知を提供する。
//
// PostgreSQLのLISTEN/NOTIFYを購読し、expensesテーブルのトリガーが発行する
// owner_id単位の変更通知をオーナーごとの購読者に配送する。
// 通知は差分ではなく「最新スナップショットを再取得せよ」という指示として扱う。
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

const notifyChannel = "expense_changes"

// Unsubscribe は購読を解除するハンドル。複数回呼んでも安全。
type Unsubscribe func()

// ChangeNotifier はオーナー単位の変更通知の購読インターフェース。
type ChangeNotifier interface {
	// Subscribe は指定オーナーの変更通知の購読を開始する。
	// fnは通知配送ゴルーチンから呼ばれるため、ブロックしてはならない
	// （バッファ付きチャネルへのノンブロッキング送信などで受けること）。
	Subscribe(ownerID string, fn func()) Unsubscribe
}

// PQNotifier はlib/pqのListenerを使用したChangeNotifierの実装。
// 接続断からの再接続はpq.Listenerが行う。再接続後は通知を取りこぼしている
// 可能性があるため、全購読者に再取得を指示する。
type PQNotifier struct {
	listener *pq.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func()
}

// NewPQNotifier はPQNotifierを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewPQNotifier(databaseURL string, logger *slog.Logger) *PQNotifier {
	n := &PQNotifier{
		logger: logger,
		subs:   make(map[string]map[int]func()),
	}

	n.listener = pq.NewListener(databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Error("listener event error",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		},
	)

	return n
}

// Start は変更通知チャネルの購読を開始し、通知を配送し続ける。
// ctxがキャンセルされるまでブロックする。
func (n *PQNotifier) Start(ctx context.Context) error {
	if err := n.listener.Listen(notifyChannel); err != nil {
		return err
	}
	defer n.listener.Close()

	n.logger.Info("store change notifier started",
		slog.String("channel", notifyChannel),
	)

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("store change notifier stopped")
			return nil
		case notification := <-n.listener.Notify:
			if notification == nil {
				// 再接続が発生した。取りこぼした可能性があるため全員に再取得を指示する。
				n.logger.Warn("listener reconnected, broadcasting refresh")
				n.broadcast()
				continue
			}
			n.dispatch(notification.Extra)
		}
	}
}

// Subscribe は指定オーナーの変更通知の購読を開始する。
func (n *PQNotifier) Subscribe(ownerID string, fn func()) Unsubscribe {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	if n.subs[ownerID] == nil {
		n.subs[ownerID] = make(map[int]func())
	}
	n.subs[ownerID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[ownerID], id)
			if len(n.subs[ownerID]) == 0 {
				delete(n.subs, ownerID)
			}
		})
	}
}

// dispatch は指定オーナーの購読者に通知を配送する。
func (n *PQNotifier) dispatch(ownerID string) {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs[ownerID]))
	for _, fn := range n.subs[ownerID] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// broadcast は全オーナーの購読者に通知を配送する。
func (n *PQNotifier) broadcast() {
	n.mu.Lock()
	var fns []func()
	for _, byID := range n.subs {
		for _, fn := range byID {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// compile-time interface check
var _ ChangeNotifier = (*PQNotifier)(nil)
