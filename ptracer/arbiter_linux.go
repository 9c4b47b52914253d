package ptracer

import (
	"fmt"

	unix "golang.org/x/sys/unix"

	"github.com/zqzqsb/tracebox/pkg/seccomp/libseccomp"
	"github.com/zqzqsb/tracebox/runner"
)

// internalError 把一次不可恢复的失败与它的内部错误码绑在一起
type internalError struct {
	code runner.InternalFailure
	err  error
}

func (e *internalError) Error() string {
	return fmt.Sprintf("internal(%d): %v", e.code, e.err)
}

func (e *internalError) Unwrap() error { return e.err }

// arbiter 对每个被截获的系统调用做出裁决
// 它独属于监控器线程，不需要锁
type arbiter struct {
	notify Notify
	debug  func(v ...interface{})

	permitAllAndLog   bool
	permitAllSilently bool

	// execved 在观察到子进程自己的 exec 后置位
	// 之前处于握手窗口，execveat 无条件放行
	execved bool

	// inProgress 按任务 ID 保存请求了返回值检查的系统调用
	// 任务出现任何终结事件时无条件移除
	inProgress map[int]runner.Syscall

	// 注入的内核原语，便于测试替换
	getContext func(pid int, arch uint32) (*Context, error)
	cont       func(pid, sig int) error
	step       func(pid, sig int) error
}

func newArbiter(cfg *SupervisorConfig) *arbiter {
	return &arbiter{
		notify:            cfg.Notify,
		debug:             cfg.Notify.Debug,
		permitAllAndLog:   cfg.PermitAllAndLog,
		permitAllSilently: cfg.PermitAllSilently,
		inProgress:        make(map[int]runner.Syscall),
		getContext:        getTrapContext,
		cont:              unix.PtraceCont,
		step:              unix.PtraceSyscall,
	}
}

// knownArch 判断过滤器上报的架构标签是否是已知值
func knownArch(arch uint32) bool {
	switch arch {
	case unix.AUDIT_ARCH_X86_64, unix.AUDIT_ARCH_I386,
		unix.AUDIT_ARCH_AARCH64, unix.AUDIT_ARCH_ARM:
		return true
	}
	return false
}

/*
	seccomp 停止的裁决路径：
	 1. 校验架构标签。未知值说明任务已经死了，忽略，
	    退出事件随后到达
	 2. 读取寄存器。ESRCH 忽略，其它读取失败是内部错误
	 3. 构造系统调用记录。架构与宿主不一致是架构切换违规
	 4. 握手窗口内的 execveat 无条件放行
	 5. 调用 Notify：放行 / 返回值检查 / 拒绝
	 6. 进程级放行开关生效时放行
	 7. 否则记录违规，把返回寄存器改写成 -ENOSYS 兜底
*/

// handleSeccomp 处理一次 seccomp 停止
// 返回非 nil 的 violation 表示需要按违规终结
func (a *arbiter) handleSeccomp(pid int, arch uint32) (violation *runner.Syscall, kind runner.ViolationKind, err error) {
	if !knownArch(arch) {
		a.debug("seccomp stop with unknown arch, task probably dead:", pid, arch)
		return nil, 0, nil
	}

	ctx, err := a.getContext(pid, arch)
	if err != nil {
		if err == unix.ESRCH {
			return nil, 0, nil
		}
		return nil, 0, &internalError{runner.FailedFetch, err}
	}

	sc := ctx.SyscallRecord()
	name, nameErr := libseccomp.ToSyscallName(ctx.SyscallNo())
	a.debug("syscall:", ctx.SyscallNo(), name, "pid:", pid)

	if arch != hostAuditArch {
		rec := sc
		a.notify.Violation(rec)
		return &rec, runner.ViolationArchSwitch, nil
	}

	// 子进程在 exec 自己之前经由 execveat 完成装载
	// 这是定义良好的握手窗口
	if !a.execved && nameErr == nil && name == "execveat" {
		return nil, 0, a.resume(pid)
	}

	switch a.notify.Syscall(ctx) {
	case DecisionAllow:
		return nil, 0, a.resume(pid)

	case DecisionInspect:
		a.inProgress[pid] = sc
		if err := a.step(pid, 0); err != nil && err != unix.ESRCH {
			delete(a.inProgress, pid)
			return nil, 0, &internalError{runner.FailedInspect, err}
		}
		return nil, 0, nil
	}

	if a.permitAllAndLog {
		a.debug("PERMITTED (permit-all-and-log):", sc.String())
		return nil, 0, a.resume(pid)
	}
	if a.permitAllSilently {
		return nil, 0, a.resume(pid)
	}

	a.notify.Violation(sc)
	// 兜底：即使终止竞争失败，调用本身也不会成功
	if err := ctx.skipSyscall(); err != nil && err != unix.ESRCH {
		a.debug("skip syscall failed:", err)
	}
	return &sc, runner.ViolationSyscall, nil
}

// handleSyscallExit 处理一次 syscall-exit-stop
// 只有请求过返回值检查的任务才会走到这里
func (a *arbiter) handleSyscallExit(pid int) error {
	sc, ok := a.inProgress[pid]
	if !ok {
		return &internalError{runner.FailedInspect,
			fmt.Errorf("syscall-exit-stop for %d without pending record", pid)}
	}
	delete(a.inProgress, pid)

	ctx, err := a.getContext(pid, hostAuditArch)
	if err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return &internalError{runner.FailedFetch, err}
	}

	a.notify.SyscallReturn(sc, ctx.ReturnValue())
	return a.resume(pid)
}

/*
	成功的 fork/vfork/clone/clone3/execve/execveat 没有
	syscall-exit-stop，完成由专门的 NewTask / Exec 事件宣告。
	这里合成返回值：fork 一族是新任务 ID，exec 是 0。
*/

// handleNewTask 在 fork/clone 事件上合成父任务的返回值
func (a *arbiter) handleNewTask(parent, child int) {
	if sc, ok := a.inProgress[parent]; ok {
		delete(a.inProgress, parent)
		a.notify.SyscallReturn(sc, int64(child))
	}
}

// handleExec 在 exec 事件上合成返回值
// exec 可能更换任务 ID，新旧两个键都要检查
func (a *arbiter) handleExec(pid, prevPid int) {
	if sc, ok := a.inProgress[prevPid]; ok {
		delete(a.inProgress, prevPid)
		a.notify.SyscallReturn(sc, 0)
		return
	}
	if sc, ok := a.inProgress[pid]; ok {
		delete(a.inProgress, pid)
		a.notify.SyscallReturn(sc, 0)
	}
}

// dropTask 在任务终结时无条件丢弃它的在途记录
// 返回值永远不会到达了
func (a *arbiter) dropTask(pid int) {
	delete(a.inProgress, pid)
}

// pending 返回在途记录数，结果终结时必须为零
func (a *arbiter) pending() int {
	return len(a.inProgress)
}

// resume 让任务继续运行，任务已死时静默成功
func (a *arbiter) resume(pid int) error {
	if err := a.cont(pid, 0); err != nil && err != unix.ESRCH {
		return &internalError{runner.FailedKill, err}
	}
	return nil
}
