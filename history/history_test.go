package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zqzqsb/tracebox/runner"
)

func newTestStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Record(runner.Result{
		Status:     runner.StatusOK,
		ReasonCode: 0,
		ProgName:   "true",
		Time:       time.Millisecond,
	}))
	require.NoError(t, s.Record(runner.Result{
		Status:     runner.StatusViolation,
		ReasonCode: 59,
		ProgName:   "evil",
		ViolationSyscall: &runner.Syscall{
			Number: 59, TaskID: 100,
		},
		StackTrace: []string{"main+0x10", "_start"},
	}))

	entries, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// 新的在前
	assert.Equal(t, runner.StatusViolation, entries[0].Status)
	assert.Equal(t, 59, entries[0].ReasonCode)
	assert.Equal(t, int64(59), entries[0].ViolationSyscall)
	assert.Equal(t, "evil", entries[0].ProgName)

	assert.Equal(t, runner.StatusOK, entries[1].Status)
	// 没有违规时的哨兵值
	assert.Equal(t, int64(-1), entries[1].ViolationSyscall)
}

func TestRecentLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(runner.Result{Status: runner.StatusOK}))
	}
	entries, err := s.Recent(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

// TestOpenIdempotent 验证重复打开同一个库是安全的
func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Record(runner.Result{Status: runner.StatusOK}))
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	entries, err := s2.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
