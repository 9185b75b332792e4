package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// Executor インターフェースに対するモック実装
type mockExecutor struct {
	execCalled bool
	query      string
	result     sql.Result
	err        error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.execCalled = true
	m.query = query
	return m.result, m.err
}

type mockSweeper struct {
	sweepCalled bool
	swept       int
}

func (m *mockSweeper) Sweep() int {
	m.sweepCalled = true
	return m.swept
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestCleanupJob_Run_DeletesExpiredSessions(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 5}}
	sweeper := &mockSweeper{swept: 2}

	job := NewCleanupJob(mock, sweeper, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !mock.execCalled {
		t.Fatal("expected delete query to be executed")
	}
	if !strings.Contains(mock.query, "DELETE FROM sessions") {
		t.Errorf("query = %q, want DELETE FROM sessions", mock.query)
	}
	if !strings.Contains(mock.query, "expires_at < now()") {
		t.Errorf("query = %q, want expires_at condition", mock.query)
	}

	if !sweeper.sweepCalled {
		t.Error("expected pending store sweep to be called")
	}

	// ログに削除件数が記録されること
	log := buf.String()
	if !strings.Contains(log, `"deleted_sessions":5`) {
		t.Errorf("log = %s, want deleted_sessions=5", log)
	}
	if !strings.Contains(log, `"swept_pending":2`) {
		t.Errorf("log = %s, want swept_pending=2", log)
	}
}

func TestCleanupJob_Run_NothingToDelete_Succeeds(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 0}}

	job := NewCleanupJob(mock, &mockSweeper{}, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestCleanupJob_Run_ExecError_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: errors.New("connection refused")}
	sweeper := &mockSweeper{}

	job := NewCleanupJob(mock, sweeper, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error from exec failure")
	}

	// DB側が失敗した場合はスイープまで進まない
	if sweeper.sweepCalled {
		t.Error("expected sweep to be skipped on exec failure")
	}
}
