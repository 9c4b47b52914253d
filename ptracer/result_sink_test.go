package ptracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zqzqsb/tracebox/runner"
)

// TestSinkWriteOnce 验证终端状态一旦设置不再被覆盖
func TestSinkWriteOnce(t *testing.T) {
	var s resultSink
	assert.True(t, s.setStatus(runner.StatusTimeout, 9, ""))
	assert.False(t, s.setStatus(runner.StatusOK, 0, ""))
	assert.False(t, s.setStatus(runner.StatusViolation, 1, ""))

	r := s.result()
	assert.Equal(t, runner.StatusTimeout, r.Status)
	assert.Equal(t, 9, r.ReasonCode)
}

// TestSinkViolation 验证违规细节只接受一次
func TestSinkViolation(t *testing.T) {
	var s resultSink
	first := &runner.Syscall{Number: 59, TaskID: 1}
	second := &runner.Syscall{Number: 2, TaskID: 2}

	s.setStatus(runner.StatusViolation, 59, "")
	s.setViolation(runner.ViolationSyscall, first)
	s.setViolation(runner.ViolationArchSwitch, second)

	r := s.result()
	assert.Equal(t, runner.ViolationSyscall, r.ViolationKind)
	assert.Same(t, first, r.ViolationSyscall)
}

// TestSinkDiagnosticsOnce 验证诊断字段按字段写一次
func TestSinkDiagnosticsOnce(t *testing.T) {
	var s resultSink
	regs := &runner.Registers{IP: 0x1000}
	s.setDiagnostics(regs, "prog", "maps", []string{"main+0x10"})
	s.setDiagnostics(&runner.Registers{IP: 0x2000}, "other", "other", []string{"x"})

	r := s.result()
	assert.Same(t, regs, r.Regs)
	assert.Equal(t, "prog", r.ProgName)
	assert.Equal(t, "maps", r.MemMaps)
	assert.Equal(t, []string{"main+0x10"}, r.StackTrace)
}

// TestSinkNetworkViolation 验证网络违规描述写一次
func TestSinkNetworkViolation(t *testing.T) {
	var s resultSink
	s.setNetworkViolation("connect to 10.0.0.1:22 denied")
	s.setNetworkViolation("later")
	assert.Equal(t, "connect to 10.0.0.1:22 denied", s.result().NetworkViolation)
}

// TestSinkUsage 验证资源使用快照
func TestSinkUsage(t *testing.T) {
	var s resultSink
	s.setUsage(2*time.Second, runner.Size(1<<20), 10*time.Millisecond, time.Second)
	r := s.result()
	assert.Equal(t, 2*time.Second, r.Time)
	assert.Equal(t, runner.Size(1<<20), r.Memory)
	assert.Equal(t, 10*time.Millisecond, r.SetUpTime)
	assert.Equal(t, time.Second, r.RunningTime)
}
