// Package history 把终结后的监控结果持久化成可追溯的审计记录
// 使用嵌入式 sqlite，适合单机批量运行后的回查
package history

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zqzqsb/tracebox/runner"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL,
	status INTEGER NOT NULL,
	reason_code INTEGER NOT NULL,
	error TEXT,
	violation_kind INTEGER,
	violation_syscall INTEGER,
	network_violation TEXT,
	prog_name TEXT,
	stack_trace TEXT,
	cpu_time_ns INTEGER,
	memory_bytes INTEGER,
	setup_time_ns INTEGER,
	running_time_ns INTEGER
);
CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);
CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
`

// Store 是结果的持久化存储
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）存储
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	return s.db.Close()
}

// Record 追加一条终结后的结果
func (s *Store) Record(r runner.Result) error {
	var vioSyscall int64 = -1
	if r.ViolationSyscall != nil {
		vioSyscall = int64(r.ViolationSyscall.Number)
	}
	_, err := s.db.Exec(`
		INSERT INTO results (
			created_at, status, reason_code, error,
			violation_kind, violation_syscall, network_violation,
			prog_name, stack_trace,
			cpu_time_ns, memory_bytes, setup_time_ns, running_time_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now(), int(r.Status), r.ReasonCode, r.Error,
		int(r.ViolationKind), vioSyscall, r.NetworkViolation,
		r.ProgName, strings.Join(r.StackTrace, "\n"),
		int64(r.Time), int64(r.Memory), int64(r.SetUpTime), int64(r.RunningTime),
	)
	return err
}

// Entry 是一条历史记录
type Entry struct {
	ID               int64
	CreatedAt        time.Time
	Status           runner.Status
	ReasonCode       int
	Error            string
	ViolationSyscall int64
	ProgName         string
}

// Recent 返回最近的 n 条记录，新的在前
func (s *Store) Recent(n int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, status, reason_code, error, violation_syscall, prog_name
		FROM results ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var st int
		if err := rows.Scan(&e.ID, &e.CreatedAt, &st, &e.ReasonCode,
			&e.Error, &e.ViolationSyscall, &e.ProgName); err != nil {
			return nil, err
		}
		e.Status = runner.Status(st)
		out = append(out, e)
	}
	return out, rows.Err()
}
