package store

import (
	"io"
	"log/slog"
	"testing"
)

func testNotifier() *PQNotifier {
	// Listenerには接続しない。購読ハブの動作のみを検証する。
	return &PQNotifier{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		subs:   make(map[string]map[int]func()),
	}
}

func TestSubscribeAndDispatch(t *testing.T) {
	n := testNotifier()

	received := 0
	n.Subscribe("owner-1", func() { received++ })

	n.dispatch("owner-1")
	n.dispatch("owner-1")

	if received != 2 {
		t.Errorf("received = %d, want 2", received)
	}
}

func TestDispatch_OnlyTargetOwner(t *testing.T) {
	n := testNotifier()

	var a, b int
	n.Subscribe("owner-a", func() { a++ })
	n.Subscribe("owner-b", func() { b++ })

	n.dispatch("owner-a")

	if a != 1 {
		t.Errorf("owner-a received = %d, want 1", a)
	}
	if b != 0 {
		t.Errorf("owner-b received = %d, want 0", b)
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	n := testNotifier()

	received := 0
	unsub := n.Subscribe("owner-1", func() { received++ })

	n.dispatch("owner-1")
	unsub()
	n.dispatch("owner-1")

	if received != 1 {
		t.Errorf("received = %d, want 1", received)
	}

	// 複数回呼んでも安全
	unsub()
}

func TestUnsubscribe_RemovesEmptyOwnerEntry(t *testing.T) {
	n := testNotifier()

	unsub := n.Subscribe("owner-1", func() {})
	unsub()

	n.mu.Lock()
	_, ok := n.subs["owner-1"]
	n.mu.Unlock()
	if ok {
		t.Error("expected owner entry to be removed after last unsubscribe")
	}
}

func TestBroadcast_ReachesAllOwners(t *testing.T) {
	n := testNotifier()

	var a, b int
	n.Subscribe("owner-a", func() { a++ })
	n.Subscribe("owner-b", func() { b++ })

	// 再接続後の取りこぼし補償は全購読者への再取得指示で行う
	n.broadcast()

	if a != 1 || b != 1 {
		t.Errorf("broadcast received = (%d, %d), want (1, 1)", a, b)
	}
}

func TestSubscribe_MultipleSubscribersPerOwner(t *testing.T) {
	n := testNotifier()

	var first, second int
	n.Subscribe("owner-1", func() { first++ })
	unsub := n.Subscribe("owner-1", func() { second++ })

	n.dispatch("owner-1")
	unsub()
	n.dispatch("owner-1")

	if first != 2 {
		t.Errorf("first received = %d, want 2", first)
	}
	if second != 1 {
		t.Errorf("second received = %d, want 1", second)
	}
}
