package ptracer

import (
	"syscall"

	unix "golang.org/x/sys/unix"
)

// EventKind 是事件分发器对一个原始任务状态的分类
type EventKind int

const (
	// EventUnknown 无法识别的停止，记录后吞掉
	EventUnknown EventKind = iota
	// EventExited 任务正常终止
	EventExited
	// EventKilledBySignal 任务死于未处理的信号
	EventKilledBySignal
	// EventSyscallExitStop 任务停在系统调用返回处（syscall-good 标记）
	EventSyscallExitStop
	// EventSeccompStop 内核过滤器触发，事件消息低位携带架构标签
	EventSeccompStop
	// EventNewTask fork/vfork/clone 产生了新任务
	EventNewTask
	// EventVforkDone vfork 的父任务解除阻塞
	EventVforkDone
	// EventExec 任务成功执行了 exec
	EventExec
	// EventExitStop 内核即将收割该任务，最后一次读寄存器的机会
	EventExitStop
	// EventGroupStop 任务收到了作业控制停止
	EventGroupStop
	// EventSignalDelivery 普通信号投递，没有事件
	EventSignalDelivery
)

var eventKindString = []string{
	"unknown", "exited", "killed-by-signal", "syscall-exit-stop",
	"seccomp-stop", "new-task", "vfork-done", "exec", "exit-stop",
	"group-stop", "signal-delivery",
}

func (k EventKind) String() string {
	i := int(k)
	if i >= 0 && i < len(eventKindString) {
		return eventKindString[i]
	}
	return eventKindString[0]
}

// Event 是一个被分类的任务事件
type Event struct {
	Kind EventKind
	Pid  int

	ExitCode  int            // EventExited
	Signal    syscall.Signal // EventKilledBySignal / EventGroupStop / EventSignalDelivery
	Arch      uint32         // EventSeccompStop：审计架构标签
	Child     int            // EventNewTask：新任务 ID
	PrevPid   int            // EventExec：exec 之前的任务 ID
	RawStatus uint32         // EventExitStop：即将上报的原始状态字
}

// eventMsgFunc 是注入的 PTRACE_GETEVENTMSG 原语，便于测试替换
type eventMsgFunc func(pid int) (uint, error)

// dispatch 把一个原始状态字转换成类型化事件
// 事件消息的读取遇到 ESRCH 时静默忽略（任务已死，退出事件随后到达）
func dispatch(pid int, ws unix.WaitStatus, getEventMsg eventMsgFunc) Event {
	switch {
	case ws.Exited():
		return Event{Kind: EventExited, Pid: pid, ExitCode: ws.ExitStatus()}

	case ws.Signaled():
		return Event{Kind: EventKilledBySignal, Pid: pid, Signal: ws.Signal()}

	case ws.Stopped():
		sig := ws.StopSignal()

		// syscall-exit-stop 由 TRACESYSGOOD 在停止信号上置高位标记
		if sig == unix.SIGTRAP|0x80 {
			return Event{Kind: EventSyscallExitStop, Pid: pid}
		}

		// 事件号在状态字的第 16..23 位
		// 不用 TrapCause()：group-stop 的停止信号不是 SIGTRAP，
		// TrapCause 会直接返回 -1
		event := (int(ws) >> 16) & 0xff
		switch event {
		case unix.PTRACE_EVENT_SECCOMP:
			msg, err := getEventMsg(pid)
			if err != nil {
				return Event{Kind: EventUnknown, Pid: pid}
			}
			// 过滤器把架构标签编码在事件消息的低 16 位
			return Event{Kind: EventSeccompStop, Pid: pid, Arch: uint32(msg)}

		case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
			msg, err := getEventMsg(pid)
			if err != nil {
				return Event{Kind: EventUnknown, Pid: pid}
			}
			return Event{Kind: EventNewTask, Pid: pid, Child: int(msg)}

		case unix.PTRACE_EVENT_VFORK_DONE:
			return Event{Kind: EventVforkDone, Pid: pid}

		case unix.PTRACE_EVENT_EXEC:
			msg, err := getEventMsg(pid)
			if err != nil {
				return Event{Kind: EventUnknown, Pid: pid}
			}
			return Event{Kind: EventExec, Pid: pid, PrevPid: int(msg)}

		case unix.PTRACE_EVENT_EXIT:
			msg, err := getEventMsg(pid)
			if err != nil {
				return Event{Kind: EventUnknown, Pid: pid}
			}
			return Event{Kind: EventExitStop, Pid: pid, RawStatus: uint32(msg)}

		case unix.PTRACE_EVENT_STOP:
			// seize 模式下的 group-stop 与 PTRACE_INTERRUPT 都走这里
			return Event{Kind: EventGroupStop, Pid: pid, Signal: sig}
		}

		if event == 0 {
			// 没有事件的普通信号投递
			return Event{Kind: EventSignalDelivery, Pid: pid, Signal: sig}
		}
		return Event{Kind: EventUnknown, Pid: pid}
	}
	return Event{Kind: EventUnknown, Pid: pid}
}

// getEventMsg 是生产环境使用的事件消息读取原语
func getEventMsg(pid int) (uint, error) {
	return unix.PtraceGetEventMsg(pid)
}
