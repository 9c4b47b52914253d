package ptracer

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	unix "golang.org/x/sys/unix"

	"github.com/zqzqsb/tracebox/diagnostics"
	"github.com/zqzqsb/tracebox/runner"
)

// defaultDrainBudget 是收尾阶段的默认预算
const defaultDrainBudget = 200 * time.Millisecond

// idleWait 是没有就绪事件时的有界等待上限
const idleWait = 10 * time.Millisecond

// Supervisor 拥有监控器线程并裁决子进程的整个生命周期
// 外部线程只通过原子请求标志、唤醒通道与 done 通知和它交互
type Supervisor struct {
	cfg SupervisorConfig

	// deadline 是墙上时钟限期的绝对纳秒时间戳，0 表示不限制
	// 外部线程可随时延长
	deadline atomic.Int64
	// 两个请求标志由外部置位、监控器按 test-and-set 消费
	killReq atomic.Bool
	dumpReq atomic.Bool
	// 网络代理上报的违规描述
	netViolation atomic.Pointer[string]

	// wake 把监控器从有界等待中踢出来，容量 1
	wake chan struct{}
	// done 在结果发布后关闭
	done chan struct{}

	// 以下字段只有监控器线程访问
	sink    resultSink
	arb     *arbiter
	waiter  *taskWaiter
	tracees map[int]bool

	timedOut     bool
	externalKill bool
	netViolated  bool
	dumpPending  bool
	mainReaped   bool

	lastRusage unix.Rusage

	// final 在 done 关闭前写入，之后只读
	final runner.Result
}

// NewSupervisor 构造监控器，此时还没有任何跟踪发生
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.StackTraceTimeout <= 0 {
		cfg.StackTraceTimeout = defaultDrainBudget
	}
	if cfg.Notify == nil {
		cfg.Notify = nopNotify{}
	}
	s := &Supervisor{
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		tracees: make(map[int]bool),
	}
	s.arb = newArbiter(&cfg)
	s.waiter = newTaskWaiter(cfg.Child.Pid)
	if cfg.Deadline > 0 {
		s.deadline.Store(time.Now().Add(cfg.Deadline).UnixNano())
	}
	return s
}

// ExtendDeadline 把墙上时钟限期顺延到现在起 d 之后
// d 为 0 时解除限期
func (s *Supervisor) ExtendDeadline(d time.Duration) {
	if d <= 0 {
		s.deadline.Store(0)
	} else {
		s.deadline.Store(time.Now().Add(d).UnixNano())
	}
	s.wakeup()
}

// RequestKill 请求终止子进程
// 重复请求与单次请求等价
func (s *Supervisor) RequestKill() {
	s.killReq.Store(true)
	s.wakeup()
}

// RequestStackDump 请求对主任务做一次栈回溯
// 任务已死时是空操作
func (s *Supervisor) RequestStackDump() {
	s.dumpReq.Store(true)
	s.wakeup()
}

// ReportNetworkViolation 由网络代理上报一次网络策略违规
func (s *Supervisor) ReportNetworkViolation(msg string) {
	s.netViolation.CompareAndSwap(nil, &msg)
	s.wakeup()
}

// RunAsync 在后台启动监控器主循环
func (s *Supervisor) RunAsync(ctx context.Context) {
	go s.run(ctx)
}

// AwaitResult 阻塞到监控器发布结果
func (s *Supervisor) AwaitResult(ctx context.Context) (runner.Result, error) {
	select {
	case <-s.done:
		return s.final, nil
	case <-ctx.Done():
		return runner.Result{}, ctx.Err()
	}
}

// wakeup 非阻塞地踢醒正在有界等待的监控器
func (s *Supervisor) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) debug(v ...interface{}) {
	if s.cfg.ShowDetails && s.cfg.Notify != nil {
		s.cfg.Notify.Debug(v...)
	}
}

/*
	主循环的伪状态：

	INIT  → 附加成功?  → 是: RUNNING   否: 终结 SETUP_ERROR
	RUNNING 每轮：
	  检查墙上时钟限期 → 过期则杀进程组并标记 timed_out
	  消费栈回溯请求 → 中断主任务以便读寄存器
	  消费外部终止请求 → 杀进程组并标记 external_kill
	  观察网络违规标志 → 杀进程组并标记 network_violation
	  taskWaiter.next()：
	    Idle  → 有界等待后继续
	    Error → ECHILD 在主任务收割前是 INTERNAL_ERROR/FAILED_CHILD
	    Ready → 事件分发器 → 按事件处理
	RUNNING 的每个终结路径都进入 DRAIN
	DRAIN 在预算内继续收割残留任务，可选记录它们的栈
	TERMINATED 发布资源使用并关闭 done
*/

func (s *Supervisor) run(ctx context.Context) {
	// ptrace 以线程为单位，附加与后续全部操作必须在同一 OS 线程
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sTime := time.Now()
	var fTime time.Time

	defer func() {
		if err := recover(); err != nil {
			s.debug("monitor panic:", err)
			s.sink.setStatus(runner.StatusInternalError, int(runner.FailedMonitor),
				fmt.Sprintf("monitor panic: %v", err))
		}
		killAll(s.cfg.Child.Pid)
		collectZombie(s.cfg.Child.Pid)

		cpu := time.Duration(s.lastRusage.Utime.Nano())
		mem := runner.Size(s.lastRusage.Maxrss << 10)
		var setup, running time.Duration
		if !fTime.IsZero() {
			setup = fTime.Sub(sTime)
			running = time.Since(fTime)
		}
		s.sink.setUsage(cpu, mem, setup, running)

		s.final = s.sink.result()
		close(s.done)
	}()

	// INIT：附加主任务与全部线程
	ac := newAttachController(s.debug)
	attached, err := ac.attachAll(s.cfg.Child.Pid, s.cfg.Child.InitPid)
	if err != nil {
		s.debug("attach failed:", err)
		s.sink.setStatus(runner.StatusSetupError, int(runner.FailedPtrace), err.Error())
		return
	}
	s.tracees = attached

	// 放行子进程
	if s.cfg.ClientDone != nil {
		if err := s.cfg.ClientDone(); err != nil {
			s.sink.setStatus(runner.StatusSetupError, int(runner.FailedMonitor),
				fmt.Sprintf("client handshake: %v", err))
			return
		}
	}
	fTime = time.Now()

	for !s.sink.finalized {
		s.iterate(ctx)
	}
	s.drain()
}

// iterate 执行主循环的一轮
func (s *Supervisor) iterate(ctx context.Context) {
	now := time.Now()

	// 限期检查：恰好等于限期也算过期
	if dl := s.deadline.Load(); dl > 0 && now.UnixNano() >= dl && !s.timedOut {
		s.debug("wall clock deadline passed")
		s.timedOut = true
		killAll(s.cfg.Child.Pid)
	}

	// 请求标志按 test-and-set 消费
	if s.dumpReq.CompareAndSwap(true, false) {
		if !s.mainReaped {
			if err := ptraceInterrupt(s.cfg.Child.Pid); err != nil && err != unix.ESRCH {
				s.debug("interrupt for stack dump failed:", err)
			} else {
				s.dumpPending = true
			}
		}
	}
	if s.killReq.CompareAndSwap(true, false) {
		s.debug("external kill requested")
		s.externalKill = true
		killAll(s.cfg.Child.Pid)
	}
	if msg := s.netViolation.Load(); msg != nil && !s.netViolated {
		s.debug("network violation reported:", *msg)
		s.netViolated = true
		s.sink.setNetworkViolation(*msg)
		killAll(s.cfg.Child.Pid)
	}
	// 嵌入方取消上下文等价于外部终止
	select {
	case <-ctx.Done():
		if !s.externalKill {
			s.externalKill = true
			killAll(s.cfg.Child.Pid)
		}
	default:
	}

	ev, kind, err := s.waiter.next()
	switch kind {
	case waitIdle:
		// 有界等待：被外部请求踢醒或超时后回到循环
		t := time.NewTimer(idleWait)
		select {
		case <-s.wake:
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()
		return

	case waitError:
		if err == unix.ECHILD && s.mainReaped {
			// 所有任务都已收割，不可能再有事件
			if !s.sink.finalized {
				s.sink.setStatus(runner.StatusInternalError, int(runner.FailedChild),
					"all tasks reaped without a terminal status")
			}
			return
		}
		s.debug("wait failed:", err)
		s.sink.setStatus(runner.StatusInternalError, int(runner.FailedChild),
			fmt.Sprintf("wait: %v", err))
		return
	}

	// 主任务的资源读数顺带做 CPU 时间检查
	if ev.pid == s.cfg.Child.Pid {
		s.lastRusage = ev.rusage
		if lim := s.cfg.Limit.TimeLimit; lim > 0 && !s.timedOut {
			if time.Duration(ev.rusage.Utime.Nano()) > lim {
				s.debug("cpu time limit exceeded")
				s.timedOut = true
				killAll(s.cfg.Child.Pid)
			}
		}
	}

	s.handleEvent(dispatch(ev.pid, ev.status, getEventMsg))
}

// handleEvent 对一个类型化事件做出反应
// 副作用（continue / listen / syscall-step）都在这里的叶子上发生
func (s *Supervisor) handleEvent(ev Event) {
	s.debug("event:", ev.Kind, "pid:", ev.Pid)

	switch ev.Kind {
	case EventExited:
		delete(s.tracees, ev.Pid)
		s.arb.dropTask(ev.Pid)
		if ev.Pid == s.cfg.Child.Pid {
			s.mainReaped = true
			s.finalizeMain(runner.StatusOK, ev.ExitCode)
		}

	case EventKilledBySignal:
		delete(s.tracees, ev.Pid)
		s.arb.dropTask(ev.Pid)
		if ev.Pid == s.cfg.Child.Pid {
			s.mainReaped = true
			s.finalizeMain(runner.StatusSignalled, int(ev.Signal))
		}

	case EventSeccompStop:
		vio, vkind, err := s.arb.handleSeccomp(ev.Pid, ev.Arch)
		if err != nil {
			s.internalError(err)
			return
		}
		if vio != nil {
			s.violation(vkind, vio)
		}

	case EventSyscallExitStop:
		if err := s.arb.handleSyscallExit(ev.Pid); err != nil {
			s.internalError(err)
		}

	case EventNewTask:
		// 新任务在 seize 选项下自动进入跟踪
		s.tracees[ev.Child] = true
		s.arb.handleNewTask(ev.Pid, ev.Child)
		s.resume(ev.Pid, 0)

	case EventVforkDone:
		s.resume(ev.Pid, 0)

	case EventExec:
		s.arb.handleExec(ev.Pid, ev.PrevPid)
		s.arb.execved = true
		if ev.PrevPid != 0 && ev.PrevPid != ev.Pid {
			// exec 吞掉了发起调用的线程
			delete(s.tracees, ev.PrevPid)
			s.arb.dropTask(ev.PrevPid)
		}
		s.resume(ev.Pid, 0)

	case EventExitStop:
		// 内核即将收割，最后一次读寄存器的机会
		if ev.Pid == s.cfg.Child.Pid {
			st := s.predictStatus(ev.RawStatus)
			if s.shouldCollectStackTrace(st) {
				s.captureDiagnostics(ev.Pid, true)
			}
		}
		s.arb.dropTask(ev.Pid)
		s.resume(ev.Pid, 0)

	case EventGroupStop:
		// PTRACE_INTERRUPT 的停止也走这里：
		// 若有挂起的栈回溯请求，借机捕获后放行
		if s.dumpPending && ev.Pid == s.cfg.Child.Pid {
			s.dumpPending = false
			s.captureDiagnostics(ev.Pid, true)
			s.resume(ev.Pid, 0)
			return
		}
		// 握手窗口内的停止来自子进程的自我 SIGSTOP，直接放行
		if !s.arb.execved {
			s.resume(ev.Pid, 0)
			return
		}
		// TRACECLONE 一族会让新任务的首次停止也以 PTRACE_EVENT_STOP
		// 上报（停止信号是 SIGTRAP），这不是作业控制停止，
		// listen 会把新任务永远挂起。只有真正的停止信号才 listen
		if !isJobControlStop(ev.Signal) {
			s.resume(ev.Pid, 0)
			return
		}
		// 作业控制停止：保持停止但继续上报事件
		if err := ptraceListen(ev.Pid); err != nil && err != unix.ESRCH {
			s.debug("listen failed:", err)
			s.resume(ev.Pid, 0)
		}

	case EventSignalDelivery:
		if s.cfg.Notify != nil {
			s.cfg.Notify.Signal(ev.Pid, ev.Signal)
		}
		// 握手窗口内压掉自我 SIGSTOP，其余信号原样注入
		if !s.arb.execved && ev.Signal == unix.SIGSTOP {
			s.resume(ev.Pid, 0)
			return
		}
		s.resume(ev.Pid, int(ev.Signal))

	default:
		s.debug("unknown stop swallowed:", ev.Pid)
		s.resume(ev.Pid, 0)
	}
}

// finalizeMain 按因果优先级终结主任务
// 我们发出的 kill 可能与子进程的自然死亡竞争，
// 意图中的原因必须胜出：网络违规 > 外部终止 > 超时 > 自然死亡
func (s *Supervisor) finalizeMain(natural runner.Status, reason int) {
	switch {
	case s.netViolated:
		if s.sink.setStatus(runner.StatusViolation, reason, "") {
			s.sink.setViolation(runner.ViolationNetwork, nil)
		}
	case s.externalKill:
		s.sink.setStatus(runner.StatusExternalKill, reason, "")
	case s.timedOut:
		s.sink.setStatus(runner.StatusTimeout, reason, "")
	default:
		s.sink.setStatus(natural, reason, "")
	}
}

// violation 终结一次违规并驱动被跟踪进程走向终止
func (s *Supervisor) violation(kind runner.ViolationKind, sc *runner.Syscall) {
	if explain := explainViolation(*sc); explain != "" {
		s.debug("violation:", explain)
	}
	if s.sink.setStatus(runner.StatusViolation, int(sc.Number), "") {
		s.sink.setViolation(kind, sc)
		if s.shouldCollectStackTrace(runner.StatusViolation) {
			s.captureDiagnostics(sc.TaskID, true)
		}
	}
	killAll(s.cfg.Child.Pid)
	s.resume(sc.TaskID, 0)
}

// internalError 终结一次不可恢复的内部失败
func (s *Supervisor) internalError(err error) {
	code := runner.FailedChild
	if ie, ok := err.(*internalError); ok {
		code = ie.code
	}
	s.debug("internal error:", err)
	s.sink.setStatus(runner.StatusInternalError, int(code), err.Error())
	killAll(s.cfg.Child.Pid)
}

// predictStatus 在 ExitStop 时预判终端状态，用于栈回溯门控
func (s *Supervisor) predictStatus(rawStatus uint32) runner.Status {
	if s.sink.finalized {
		return s.sink.r.Status
	}
	switch {
	case s.netViolated:
		return runner.StatusViolation
	case s.externalKill:
		return runner.StatusExternalKill
	case s.timedOut:
		return runner.StatusTimeout
	}
	if ws := unix.WaitStatus(rawStatus); ws.Signaled() {
		return runner.StatusSignalled
	}
	return runner.StatusOK
}

// shouldCollectStackTrace 按策略判断是否收集栈回溯
func (s *Supervisor) shouldCollectStackTrace(st runner.Status) bool {
	if s.cfg.CaptureStackTrace == nil || s.cfg.Policy == nil {
		return false
	}
	if st == runner.StatusOK && !s.cfg.Policy.CollectStackTraceOnExit() {
		return false
	}
	return s.cfg.Policy.AllowStackTrace(st)
}

// captureDiagnostics 捕获目标任务的诊断信息
// 诊断失败只记录，不改变终端状态
func (s *Supervisor) captureDiagnostics(pid int, withStack bool) {
	ctx, err := getTrapContext(pid, hostAuditArch)
	if err != nil {
		s.debug("diagnostics: read registers:", err)
		return
	}
	regs := ctx.Registers()

	var unwind diagnostics.UnwindFunc
	if withStack && s.cfg.CaptureStackTrace != nil {
		unwind = s.cfg.CaptureStackTrace
	}
	rep := diagnostics.Collect(pid, regs, unwind)
	for _, f := range rep.Frames {
		s.debug("stack:", f)
	}
	s.sink.setDiagnostics(&rep.Regs, rep.ProgName, rep.MemMaps, rep.Frames)
}

// drain 在预算内继续收割残留任务
// 预算耗尽后对主任务补一次硬杀
func (s *Supervisor) drain() {
	budget := s.cfg.StackTraceTimeout
	deadline := time.Now().Add(budget)
	s.debug("draining residual tasks, budget:", budget)

	for time.Now().Before(deadline) {
		ev, kind, err := s.waiter.next()
		switch kind {
		case waitError:
			if err == unix.ECHILD {
				return
			}
			s.debug("drain wait:", err)
			return
		case waitIdle:
			if len(s.tracees) == 0 {
				return
			}
			time.Sleep(time.Millisecond)
			continue
		}

		e := dispatch(ev.pid, ev.status, getEventMsg)
		switch e.Kind {
		case EventExited, EventKilledBySignal:
			delete(s.tracees, e.Pid)
			s.arb.dropTask(e.Pid)
			if e.Pid == s.cfg.Child.Pid {
				s.mainReaped = true
			}
		case EventExitStop:
			// 操作员要求时记录每个残留线程的栈
			if s.cfg.CollectAllStackTraces {
				s.captureDiagnostics(e.Pid, true)
			}
			s.arb.dropTask(e.Pid)
			s.resume(e.Pid, 0)
		default:
			s.resume(e.Pid, 0)
		}
	}
	s.debug("drain budget exceeded, killing remaining tasks")
	killAll(s.cfg.Child.Pid)
}

// isJobControlStop 判断是否是真正的作业控制停止信号
func isJobControlStop(sig syscall.Signal) bool {
	switch sig {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		return true
	}
	return false
}

// resume 让任务继续运行，任务已死时静默成功
func (s *Supervisor) resume(pid, sig int) {
	if err := unix.PtraceCont(pid, sig); err != nil && err != unix.ESRCH {
		s.debug("continue failed:", pid, err)
	}
}
