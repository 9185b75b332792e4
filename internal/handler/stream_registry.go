package handler

import (
	"context"
	"sync"
)

// StreamRegistry は開いているSSEストリームをセッションIDで索引する。
// ログアウトでセッションが破棄されたとき、そのセッションが開いた
// ストリームを即座に停止するために使う。
type StreamRegistry struct {
	mu      sync.Mutex
	nextID  int
	streams map[string]map[int]context.CancelFunc
}

// NewStreamRegistry はStreamRegistryを生成する。
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[string]map[int]context.CancelFunc),
	}
}

// Register はセッションに紐づくストリームのキャンセル関数を登録し、
// 登録解除用の関数を返す。ストリームの終了時に必ず呼び出すこと。
func (reg *StreamRegistry) Register(sessionID string, cancel context.CancelFunc) func() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.nextID++
	id := reg.nextID

	if reg.streams[sessionID] == nil {
		reg.streams[sessionID] = make(map[int]context.CancelFunc)
	}
	reg.streams[sessionID][id] = cancel

	return func() {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		delete(reg.streams[sessionID], id)
		if len(reg.streams[sessionID]) == 0 {
			delete(reg.streams, sessionID)
		}
	}
}

// CancelSession は指定セッションが開いている全ストリームを停止する。
func (reg *StreamRegistry) CancelSession(sessionID string) {
	reg.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(reg.streams[sessionID]))
	for _, cancel := range reg.streams[sessionID] {
		cancels = append(cancels, cancel)
	}
	delete(reg.streams, sessionID)
	reg.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
