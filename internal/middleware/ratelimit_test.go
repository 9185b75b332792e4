package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func tightConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    2,
		WriteRate:       rate.Limit(1),
		WriteBurst:      1,
		CleanupInterval: time.Hour,
	}
}

func limitedRequest(ownerID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	return req.WithContext(ContextWithOwnerID(req.Context(), ownerID))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(tightConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest("owner-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, rec.Code, http.StatusOK)
		}
	}
}

func TestGeneralMiddleware_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(tightConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), limitedRequest("owner-1"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest("owner-1"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestGeneralMiddleware_LimitsPerOwner(t *testing.T) {
	rl := NewRateLimiter(tightConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// owner-1のバーストを使い切る
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), limitedRequest("owner-1"))
	}

	// 別オーナーは制限されない
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest("owner-2"))
	if rec.Code != http.StatusOK {
		t.Errorf("other owner status = %d, want %d", rec.Code, http.StatusOK)
	}

	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("limiter count = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestWriteMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(tightConfig())
	defer rl.Stop()

	writeHandler := rl.WriteMiddleware()(okHandler())
	generalHandler := rl.GeneralMiddleware()(okHandler())

	// 書き込みのバースト(1)を使い切る
	writeHandler.ServeHTTP(httptest.NewRecorder(), limitedRequest("owner-1"))

	rec := httptest.NewRecorder()
	writeHandler.ServeHTTP(rec, limitedRequest("owner-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("write status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	// API全般は別カウントのため通る
	rec = httptest.NewRecorder()
	generalHandler.ServeHTTP(rec, limitedRequest("owner-1"))
	if rec.Code != http.StatusOK {
		t.Errorf("general status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMiddleware_NoOwnerID_ReturnsUnauthorized(t *testing.T) {
	rl := NewRateLimiter(tightConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/expenses", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLimiterSet_CleanupRemovesIdleEntries(t *testing.T) {
	ls := newLimiterSet(rate.Limit(1), 1)

	ls.get("owner-idle")
	ls.get("owner-active")

	// owner-idleを過去のアクセスに偽装する
	ls.mu.Lock()
	ls.entries["owner-idle"].lastAccess = time.Now().Add(-time.Hour)
	ls.mu.Unlock()

	ls.cleanup(30 * time.Minute)

	if ls.count() != 1 {
		t.Errorf("count = %d, want 1", ls.count())
	}
}
