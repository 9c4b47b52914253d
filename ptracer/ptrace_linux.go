package ptracer

import (
	unix "golang.org/x/sys/unix"
)

// traceOptions 是附加时设置的完整事件位集合
// 包含 exit-kill、全部多进程事件、seccomp 事件与 syscall-good 标记
const traceOptions = unix.PTRACE_O_EXITKILL |
	unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK | unix.PTRACE_O_TRACEVFORKDONE |
	unix.PTRACE_O_TRACEEXEC | unix.PTRACE_O_TRACEEXIT |
	unix.PTRACE_O_TRACESECCOMP | unix.PTRACE_O_TRACESYSGOOD

/*
	x/sys/unix 没有为 PTRACE_SEIZE / PTRACE_INTERRUPT / PTRACE_LISTEN
	提供包装函数，这里直接发起原始系统调用。
	seize 与 attach 的区别：seize 不会停止目标任务，
	之后的停止都是显式的（interrupt / 事件 / 信号）
*/

// ptraceSeize 附加到目标任务而不停止它，并同时设置事件选项
func ptraceSeize(pid int, opts uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SEIZE,
		uintptr(pid), 0, opts, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// ptraceInterrupt 请求目标任务进入跟踪停止
func ptraceInterrupt(pid int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_INTERRUPT,
		uintptr(pid), 0, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// ptraceListen 让处于 group-stop 的任务保持停止但继续上报事件
func ptraceListen(pid int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_LISTEN,
		uintptr(pid), 0, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// killAll 根据进程组 ID 终止所有被跟踪的进程
func killAll(pgid int) {
	unix.Kill(-pgid, unix.SIGKILL)
}

// collectZombie 收集已终止的子进程
func collectZombie(pgid int) {
	var (
		wstatus unix.WaitStatus
		rusage  unix.Rusage
	)
	for {
		// 等待任何子进程，不阻塞
		pid, err := unix.Wait4(-pgid, &wstatus, unix.WALL|unix.WNOHANG, &rusage)
		if err != nil || pid <= 0 {
			return
		}
	}
}
