package ptracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	unix "golang.org/x/sys/unix"

	"github.com/zqzqsb/tracebox/runner"
)

type stubPolicy struct {
	allow  map[runner.Status]bool
	onExit bool
}

func (p stubPolicy) AllowStackTrace(s runner.Status) bool { return p.allow[s] }
func (p stubPolicy) CollectStackTraceOnExit() bool        { return p.onExit }

func testSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Notify == nil {
		cfg.Notify = &recordingNotify{}
	}
	if cfg.Child.Pid == 0 {
		// 不存在的任务，内核原语都会以 ESRCH 静默失败
		cfg.Child.Pid = 1 << 22
	}
	return NewSupervisor(cfg)
}

// TestKillFlagIdempotent 验证重复请求终止与单次请求等价
func TestKillFlagIdempotent(t *testing.T) {
	s := testSupervisor(SupervisorConfig{})
	s.RequestKill()
	s.RequestKill()
	s.RequestKill()

	// 一次 test-and-set 消费掉请求
	assert.True(t, s.killReq.CompareAndSwap(true, false))
	// 之后没有残留请求
	assert.False(t, s.killReq.Load())
}

// TestWakeupNonBlocking 验证唤醒通道永不阻塞
func TestWakeupNonBlocking(t *testing.T) {
	s := testSupervisor(SupervisorConfig{})
	for i := 0; i < 100; i++ {
		s.wakeup()
	}
	select {
	case <-s.wake:
	default:
		t.Fatal("expected a pending wakeup")
	}
}

// TestExtendDeadline 验证限期顺延与解除
func TestExtendDeadline(t *testing.T) {
	s := testSupervisor(SupervisorConfig{Deadline: time.Second})
	before := s.deadline.Load()
	assert.Greater(t, before, int64(0))

	s.ExtendDeadline(time.Hour)
	assert.Greater(t, s.deadline.Load(), before)

	// 0 解除限期
	s.ExtendDeadline(0)
	assert.Zero(t, s.deadline.Load())
}

// TestFinalizePrecedence 验证终端状态优先级：
// 网络违规 > 外部终止 > 超时 > 自然死亡
func TestFinalizePrecedence(t *testing.T) {
	tests := []struct {
		name         string
		net, ext, to bool
		want         runner.Status
	}{
		{"natural", false, false, false, runner.StatusSignalled},
		{"timeout", false, false, true, runner.StatusTimeout},
		{"external beats timeout", false, true, true, runner.StatusExternalKill},
		{"network beats all", true, true, true, runner.StatusViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSupervisor(SupervisorConfig{})
			s.netViolated = tt.net
			s.externalKill = tt.ext
			s.timedOut = tt.to
			s.finalizeMain(runner.StatusSignalled, 9)
			assert.Equal(t, tt.want, s.sink.result().Status)
		})
	}
}

// TestFinalStatusNeverRewritten 验证终端状态不会被后续事件改写
func TestFinalStatusNeverRewritten(t *testing.T) {
	s := testSupervisor(SupervisorConfig{})
	s.timedOut = true
	s.finalizeMain(runner.StatusSignalled, 9)
	assert.Equal(t, runner.StatusTimeout, s.sink.result().Status)

	// 迟到的自然死亡不再生效
	s.timedOut = false
	s.finalizeMain(runner.StatusOK, 0)
	assert.Equal(t, runner.StatusTimeout, s.sink.result().Status)
}

// TestPredictStatus 验证 ExitStop 时的状态预判
func TestPredictStatus(t *testing.T) {
	s := testSupervisor(SupervisorConfig{})
	assert.Equal(t, runner.StatusOK, s.predictStatus(0))
	assert.Equal(t, runner.StatusSignalled, s.predictStatus(uint32(9)))

	s.timedOut = true
	assert.Equal(t, runner.StatusTimeout, s.predictStatus(uint32(9)))
	s.externalKill = true
	assert.Equal(t, runner.StatusExternalKill, s.predictStatus(uint32(9)))
	s.netViolated = true
	assert.Equal(t, runner.StatusViolation, s.predictStatus(uint32(9)))
}

// TestShouldCollectStackTrace 验证栈回溯收集的门控
func TestShouldCollectStackTrace(t *testing.T) {
	// 没有展开器：从不收集
	s := testSupervisor(SupervisorConfig{
		Policy: stubPolicy{allow: map[runner.Status]bool{runner.StatusViolation: true}},
	})
	assert.False(t, s.shouldCollectStackTrace(runner.StatusViolation))

	unwind := func(pid int, regs runner.Registers) ([]string, error) { return nil, nil }

	// 策略允许违规时收集
	s = testSupervisor(SupervisorConfig{
		Policy:            stubPolicy{allow: map[runner.Status]bool{runner.StatusViolation: true}},
		CaptureStackTrace: unwind,
	})
	assert.True(t, s.shouldCollectStackTrace(runner.StatusViolation))
	assert.False(t, s.shouldCollectStackTrace(runner.StatusTimeout))

	// 正常退出额外受 CollectStackTraceOnExit 门控
	assert.False(t, s.shouldCollectStackTrace(runner.StatusOK))
	s = testSupervisor(SupervisorConfig{
		Policy: stubPolicy{
			allow:  map[runner.Status]bool{runner.StatusOK: true},
			onExit: true,
		},
		CaptureStackTrace: unwind,
	})
	assert.True(t, s.shouldCollectStackTrace(runner.StatusOK))
}

// TestNetworkViolationReport 验证网络违规只接受第一条
func TestNetworkViolationReport(t *testing.T) {
	s := testSupervisor(SupervisorConfig{})
	s.ReportNetworkViolation("first")
	s.ReportNetworkViolation("second")
	assert.Equal(t, "first", *s.netViolation.Load())
}

// TestIsJobControlStop 验证只有作业控制信号会进入 listen 路径
// TRACECLONE 一族把新任务的首次停止也以 PTRACE_EVENT_STOP 上报，
// 停止信号是 SIGTRAP，对它 listen 会把新任务永远挂起
func TestIsJobControlStop(t *testing.T) {
	assert.True(t, isJobControlStop(unix.SIGSTOP))
	assert.True(t, isJobControlStop(unix.SIGTSTP))
	assert.True(t, isJobControlStop(unix.SIGTTIN))
	assert.True(t, isJobControlStop(unix.SIGTTOU))

	assert.False(t, isJobControlStop(unix.SIGTRAP))
	assert.False(t, isJobControlStop(unix.SIGCONT))
	assert.False(t, isJobControlStop(unix.SIGUSR1))
}

// TestStackTraceTimeoutDefault 验证收尾预算的默认值
func TestStackTraceTimeoutDefault(t *testing.T) {
	s := testSupervisor(SupervisorConfig{})
	assert.Equal(t, defaultDrainBudget, s.cfg.StackTraceTimeout)

	s = testSupervisor(SupervisorConfig{StackTraceTimeout: time.Second})
	assert.Equal(t, time.Second, s.cfg.StackTraceTimeout)
}
