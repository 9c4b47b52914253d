//go:build linux
// +build linux

// Package ptracer 实现了基于 ptrace 的系统调用监控核心
// 它把一个已启动的子进程及其全部线程置于跟踪之下，
// 配合内核 seccomp 过滤器对每个被上报的系统调用做出裁决，
// 并在子进程终止后给出唯一的终端状态
package ptracer

import (
	"syscall"
	"time"

	"github.com/zqzqsb/tracebox/runner"
)

// Decision 定义了 Notify 对一个被截获系统调用的裁决
type Decision int

const (
	// DecisionDeny 拒绝该系统调用，记录违规并终止被跟踪进程
	// 这是零值，未知的裁决一律按拒绝处理
	DecisionDeny Decision = iota
	// DecisionAllow 放行该系统调用
	DecisionAllow
	// DecisionInspect 放行该系统调用，并在返回时再次通知
	DecisionInspect
)

// Notify 定义了监控过程的观察者回调
// 所有回调都在监控器线程上同步执行，不得阻塞
type Notify interface {
	// Syscall 对每个被截获的系统调用返回裁决
	Syscall(*Context) Decision

	// SyscallReturn 在 DecisionInspect 的系统调用返回后被调用
	// fork/clone/execve 一族没有返回停止点，返回值由监控器合成
	SyscallReturn(sc runner.Syscall, retval int64)

	// Violation 在记录违规时被调用
	Violation(sc runner.Syscall)

	// Signal 在向被跟踪进程透传信号时被调用
	Signal(pid int, sig syscall.Signal)

	// Debug 在调试模式下打印调试信息
	Debug(v ...interface{})
}

// nopNotify 是缺省的空观察者
type nopNotify struct{}

func (nopNotify) Syscall(*Context) Decision                  { return DecisionAllow }
func (nopNotify) SyscallReturn(sc runner.Syscall, ret int64) {}
func (nopNotify) Violation(sc runner.Syscall)                {}
func (nopNotify) Signal(pid int, sig syscall.Signal)         {}
func (nopNotify) Debug(v ...interface{})                     {}

// Policy 是已编译策略暴露给监控核心的最小接口
// 真正的拦截规则已经编译进内核过滤器，这里只保留栈回溯的门控
type Policy interface {
	// AllowStackTrace 判断在给定终端状态下是否允许收集栈回溯
	AllowStackTrace(s runner.Status) bool

	// CollectStackTraceOnExit 判断正常退出时是否收集栈回溯
	CollectStackTraceOnExit() bool
}

// Child 是已启动的子进程句柄
// 子进程由外部协作者（forkexec）创建，创建时已阻塞等待监控器放行
type Child struct {
	// Pid 是子进程的主任务 ID
	Pid int
	// InitPid 是命名空间初始化辅助任务的 ID，0 表示没有
	// 该任务在子进程 exec 前短暂存在，附加失败不视为致命
	InitPid int
}

// SupervisorConfig 是监控器的全部构造配置
// 所有全局开关都在这里注入，监控器不读取进程级全局变量
type SupervisorConfig struct {
	Child  Child
	Policy Policy
	Notify Notify
	Limit  runner.Limit

	// Deadline 是初始墙上时钟限制，0 表示不限制
	Deadline time.Duration

	// PermitAllAndLog 放行一切系统调用并记录日志（调试用途）
	// PermitAllSilently 静默放行一切系统调用
	PermitAllAndLog   bool
	PermitAllSilently bool

	// CollectAllStackTraces 在收尾阶段对每个残留线程收集栈回溯
	CollectAllStackTraces bool
	// StackTraceTimeout 是收尾阶段的预算，0 取默认值 200ms
	StackTraceTimeout time.Duration

	// ClientDone 在附加完成后向子进程发送放行字
	// 为 nil 时跳过握手（子进程不等待）
	ClientDone func() error

	// CaptureStackTrace 把捕获的寄存器换成符号化栈帧
	// 为 nil 时结果只携带寄存器与内存映射
	CaptureStackTrace func(pid int, regs runner.Registers) ([]string, error)

	// ShowDetails 控制是否显示详细的调试信息
	ShowDetails bool
}
