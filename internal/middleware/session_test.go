package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/kakeibo/internal/model"
)

type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

var _ SessionFinder = (*mockSessionFinder)(nil)

func TestSessionMiddleware_ValidSession_InjectsOwnerID(t *testing.T) {
	finder := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}

	var gotOwnerID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := OwnerIDFromContext(r.Context())
		if err != nil {
			t.Errorf("OwnerIDFromContext() error = %v", err)
		}
		gotOwnerID = ownerID
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "session-1"})
	rec := httptest.NewRecorder()

	NewSessionMiddleware(finder)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotOwnerID != "user-1" {
		t.Errorf("owner ID = %q, want user-1", gotOwnerID)
	}
}

func TestSessionMiddleware_NoCookie_ReturnsUnauthorized(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	rec := httptest.NewRecorder()

	NewSessionMiddleware(&mockSessionFinder{})(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSessionMiddleware_ExpiredSession_ReturnsUnauthorized(t *testing.T) {
	// 期限切れセッションはリポジトリがnilを返す
	finder := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, nil
		},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "expired-session"})
	rec := httptest.NewRecorder()

	NewSessionMiddleware(finder)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSessionMiddleware_FinderError_ReturnsUnauthorized(t *testing.T) {
	finder := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("db error")
		},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "session-1"})
	rec := httptest.NewRecorder()

	NewSessionMiddleware(finder)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestOwnerIDFromContext_Missing_ReturnsError(t *testing.T) {
	if _, err := OwnerIDFromContext(context.Background()); err == nil {
		t.Fatal("expected error for missing owner ID")
	}
}

func TestContextWithOwnerID_RoundTrip(t *testing.T) {
	ctx := ContextWithOwnerID(context.Background(), "user-1")

	ownerID, err := OwnerIDFromContext(ctx)
	if err != nil {
		t.Fatalf("OwnerIDFromContext() error = %v", err)
	}
	if ownerID != "user-1" {
		t.Errorf("owner ID = %q, want user-1", ownerID)
	}
}
