// Package merge は認証手段の統合（アカウントリンク）を提供する。
package merge

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hitoshi/kakeibo/internal/model"
)

// PendingStore は統合待ちの外部IdP認証情報をメモリ上で保持する。
// エントリはトークン（HTTP Only Cookieで運ばれる）をキーとし、TTLで失効する。
// ブラウザセッションごとに未解決の統合は最大1つで、Cookieの上書きにより
// 古いトークンは自然に到達不能になる。失効済みエントリの回収はSweepで行う。
type PendingStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]pendingEntry
}

type pendingEntry struct {
	pending   model.PendingCredential
	expiresAt time.Time
}

// NewPendingStore はPendingStoreを生成する。
func NewPendingStore(ttl time.Duration) *PendingStore {
	return &PendingStore{
		ttl:     ttl,
		entries: make(map[string]pendingEntry),
	}
}

// Put は統合待ち認証情報を登録し、トークンを返す。
func (s *PendingStore) Put(pending model.PendingCredential) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = pendingEntry{
		pending:   pending,
		expiresAt: time.Now().Add(s.ttl),
	}

	return token, nil
}

// Get はトークンに対応する統合待ち認証情報を返す。
// 存在しない、または失効済みの場合はfalseを返す。
func (s *PendingStore) Get(token string) (model.PendingCredential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return model.PendingCredential{}, false
	}
	return entry.pending, true
}

// Delete はトークンに対応するエントリを削除する。存在しなくてもエラーにしない。
func (s *PendingStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Sweep は失効済みエントリを削除し、削除件数を返す。
// クリーンアップジョブから定期的に呼ばれる。
func (s *PendingStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for token, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// generateToken は暗号的に安全な統合トークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
