package runner

import (
	"fmt"
	"time"
)

// Syscall 是一次被截获的系统调用的不可变快照
// 在一次裁决周期内构造一次，之后不再修改
type Syscall struct {
	Arch   uint32    // 审计架构标签（AUDIT_ARCH_*）
	Number uint64    // 系统调用号
	Args   [6]uint64 // 最多六个参数字
	TaskID int       // 发起调用的任务 ID
	IP     uintptr   // 捕获时的指令指针
	SP     uintptr   // 捕获时的栈指针
}

func (s Syscall) String() string {
	return fmt.Sprintf("syscall(%d) arch=%#x pid=%d ip=%#x sp=%#x args=%x",
		s.Number, s.Arch, s.TaskID, s.IP, s.SP, s.Args)
}

// Registers 是与平台无关的寄存器快照
// 由监控器从原始 ptrace 寄存器组转换而来
type Registers struct {
	Arch uint32     // 审计架构标签
	IP   uintptr    // 指令指针
	SP   uintptr    // 栈指针
	BP   uintptr    // 帧指针（用于回退展开）
	GP   [32]uint64 // 通用寄存器原样保存
}

// Result 是监控器的最终结果
// 由监控器线程独占写入，终结后只读
type Result struct {
	Status                    // 终端状态
	ReasonCode        int     // 信号编号 / 系统调用号 / 退出码 / 子错误枚举
	Error             string  // 详细错误信息（用于监控器错误）
	ViolationKind     ViolationKind
	ViolationSyscall  *Syscall // 违规的系统调用（仅违规时存在）
	NetworkViolation  string   // 网络代理上报的违规描述

	// 诊断产物，按需捕获
	Regs       *Registers // 捕获的寄存器
	ProgName   string     // 程序名（读自 /proc/<pid>/comm）
	MemMaps    string     // 内存映射原文（读自 /proc/<pid>/maps）
	StackTrace []string   // 符号化的栈帧

	Time   time.Duration // 使用的用户 CPU 时间（底层类型为 int64，单位纳秒）
	Memory Size          // 使用的用户内存（底层类型为 uint64，单位字节）

	// 监控器自身的度量指标
	SetUpTime   time.Duration // 附加耗时
	RunningTime time.Duration // 从附加完成到终结的耗时
}

func (r Result) String() string {
	switch r.Status {
	case StatusOK:
		return fmt.Sprintf("Result[OK(%d)][%v %v][%v %v]", r.ReasonCode, r.Time, r.Memory, r.SetUpTime, r.RunningTime)

	case StatusSignalled:
		return fmt.Sprintf("Result[Signalled(%d)][%v %v][%v %v]", r.ReasonCode, r.Time, r.Memory, r.SetUpTime, r.RunningTime)

	case StatusViolation:
		return fmt.Sprintf("Result[Violation(%d %v)][%v %v][%v %v]", r.ReasonCode, r.ViolationSyscall, r.Time, r.Memory, r.SetUpTime, r.RunningTime)

	case StatusSetupError, StatusInternalError:
		return fmt.Sprintf("Result[%v(%s %d)][%v %v][%v %v]", r.Status, r.Error, r.ReasonCode, r.Time, r.Memory, r.SetUpTime, r.RunningTime)

	default:
		return fmt.Sprintf("Result[%v(%d)][%v %v][%v %v]", r.Status, r.ReasonCode, r.Time, r.Memory, r.SetUpTime, r.RunningTime)
	}
}
