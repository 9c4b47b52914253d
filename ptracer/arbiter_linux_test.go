package ptracer

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	unix "golang.org/x/sys/unix"

	"github.com/zqzqsb/tracebox/runner"
)

// recordingNotify 记录回调并按脚本返回裁决
type recordingNotify struct {
	decision   Decision
	syscalls   []uint
	returns    []int64
	violations []runner.Syscall
}

func (n *recordingNotify) Syscall(ctx *Context) Decision {
	n.syscalls = append(n.syscalls, ctx.SyscallNo())
	return n.decision
}

func (n *recordingNotify) SyscallReturn(sc runner.Syscall, retval int64) {
	n.returns = append(n.returns, retval)
}

func (n *recordingNotify) Violation(sc runner.Syscall) {
	n.violations = append(n.violations, sc)
}

func (n *recordingNotify) Signal(pid int, sig syscall.Signal) {}

func (n *recordingNotify) Debug(v ...interface{}) {}

// testArbiter 构造一个全部内核原语都被替换掉的 arbiter
func testArbiter(n *recordingNotify) (*arbiter, *[]string) {
	var ops []string
	a := &arbiter{
		notify:     n,
		debug:      n.Debug,
		inProgress: make(map[int]runner.Syscall),
		getContext: func(pid int, arch uint32) (*Context, error) {
			return &Context{Pid: pid, Arch: arch}, nil
		},
		cont: func(pid, sig int) error {
			ops = append(ops, "cont")
			return nil
		},
		step: func(pid, sig int) error {
			ops = append(ops, "step")
			return nil
		},
	}
	// 测试里的目标任务不是被跟踪者，拒绝路径对它的寄存器改写
	// 会失败，仲裁器只记录该错误
	return a, &ops
}

func TestArbiterAllow(t *testing.T) {
	n := &recordingNotify{decision: DecisionAllow}
	a, ops := testArbiter(n)
	a.execved = true

	vio, _, err := a.handleSeccomp(100, hostAuditArch)
	require.NoError(t, err)
	assert.Nil(t, vio)
	assert.Equal(t, []string{"cont"}, *ops)
	assert.Zero(t, a.pending())
}

func TestArbiterInspect(t *testing.T) {
	n := &recordingNotify{decision: DecisionInspect}
	a, ops := testArbiter(n)
	a.execved = true

	vio, _, err := a.handleSeccomp(100, hostAuditArch)
	require.NoError(t, err)
	assert.Nil(t, vio)
	assert.Equal(t, []string{"step"}, *ops)
	require.Equal(t, 1, a.pending())

	// 返回停止：读返回值、通知、清记录、放行
	require.NoError(t, a.handleSyscallExit(100))
	assert.Zero(t, a.pending())
	assert.Len(t, n.returns, 1)
	assert.Equal(t, []string{"step", "cont"}, *ops)
}

func TestArbiterDeny(t *testing.T) {
	n := &recordingNotify{decision: DecisionDeny}
	a, _ := testArbiter(n)
	a.execved = true

	vio, kind, err := a.handleSeccomp(424242, hostAuditArch)
	require.NoError(t, err)
	require.NotNil(t, vio)
	assert.Equal(t, runner.ViolationSyscall, kind)
	assert.Len(t, n.violations, 1)
}

// TestArbiterArchSwitch 验证架构切换是致命违规且不询问 Notify
func TestArbiterArchSwitch(t *testing.T) {
	n := &recordingNotify{decision: DecisionAllow}
	a, _ := testArbiter(n)
	a.execved = true

	vio, kind, err := a.handleSeccomp(100, unix.AUDIT_ARCH_I386)
	require.NoError(t, err)
	require.NotNil(t, vio)
	assert.Equal(t, runner.ViolationArchSwitch, kind)
	assert.Empty(t, n.syscalls)
	assert.Len(t, n.violations, 1)
}

// TestArbiterUnknownArch 验证未知架构标签被当作任务已死忽略
func TestArbiterUnknownArch(t *testing.T) {
	n := &recordingNotify{decision: DecisionDeny}
	a, ops := testArbiter(n)

	vio, _, err := a.handleSeccomp(100, 0xdeadbeef)
	require.NoError(t, err)
	assert.Nil(t, vio)
	assert.Empty(t, *ops)
}

// TestArbiterExecveatHandshake 验证握手窗口内的 execveat 无条件放行
func TestArbiterExecveatHandshake(t *testing.T) {
	n := &recordingNotify{decision: DecisionDeny}
	a, ops := testArbiter(n)
	a.getContext = func(pid int, arch uint32) (*Context, error) {
		ctx := &Context{Pid: pid, Arch: arch}
		ctx.regs.Orig_rax = 322 // execveat on amd64
		return ctx, nil
	}

	// exec 之前：放行
	vio, _, err := a.handleSeccomp(100, hostAuditArch)
	require.NoError(t, err)
	assert.Nil(t, vio)
	assert.Equal(t, []string{"cont"}, *ops)
	assert.Empty(t, n.syscalls)

	// exec 之后：正常裁决
	a.execved = true
	vio, _, err = a.handleSeccomp(100, hostAuditArch)
	require.NoError(t, err)
	assert.NotNil(t, vio)
	assert.Equal(t, []uint{322}, n.syscalls)
}

// TestArbiterPermitAll 验证进程级放行开关
func TestArbiterPermitAll(t *testing.T) {
	n := &recordingNotify{decision: DecisionDeny}
	a, ops := testArbiter(n)
	a.execved = true
	a.permitAllSilently = true

	vio, _, err := a.handleSeccomp(100, hostAuditArch)
	require.NoError(t, err)
	assert.Nil(t, vio)
	assert.Equal(t, []string{"cont"}, *ops)
}

// TestArbiterExitStopWithoutRecord 验证无记录的返回停止是内部错误
func TestArbiterExitStopWithoutRecord(t *testing.T) {
	n := &recordingNotify{}
	a, _ := testArbiter(n)

	err := a.handleSyscallExit(100)
	require.Error(t, err)
	ie, ok := err.(*internalError)
	require.True(t, ok)
	assert.Equal(t, runner.FailedInspect, ie.code)
}

// TestArbiterForkReturnSynthesis 验证 fork 一族的返回值合成
func TestArbiterForkReturnSynthesis(t *testing.T) {
	n := &recordingNotify{decision: DecisionInspect}
	a, _ := testArbiter(n)
	a.execved = true

	_, _, err := a.handleSeccomp(100, hostAuditArch)
	require.NoError(t, err)
	require.Equal(t, 1, a.pending())

	// fork 没有返回停止，NewTask 事件合成新任务 ID
	a.handleNewTask(100, 4321)
	assert.Zero(t, a.pending())
	assert.Equal(t, []int64{4321}, n.returns)
}

// TestArbiterExecReturnSynthesis 验证 exec 的返回值合成
func TestArbiterExecReturnSynthesis(t *testing.T) {
	n := &recordingNotify{decision: DecisionInspect}
	a, _ := testArbiter(n)
	a.execved = true

	_, _, err := a.handleSeccomp(100, hostAuditArch)
	require.NoError(t, err)

	// exec 吞掉了发起线程，旧任务 ID 作为键
	a.handleExec(200, 100)
	assert.Zero(t, a.pending())
	assert.Equal(t, []int64{0}, n.returns)
}

// TestArbiterDropTask 验证任务终结时在途记录被无条件丢弃
func TestArbiterDropTask(t *testing.T) {
	n := &recordingNotify{decision: DecisionInspect}
	a, _ := testArbiter(n)
	a.execved = true

	_, _, err := a.handleSeccomp(100, hostAuditArch)
	require.NoError(t, err)
	require.Equal(t, 1, a.pending())

	a.dropTask(100)
	assert.Zero(t, a.pending())
	assert.Empty(t, n.returns)
}
