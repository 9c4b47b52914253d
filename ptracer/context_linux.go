package ptracer

import (
	"bytes"
	"os"
	"syscall"

	"github.com/zqzqsb/tracebox/runner"
)

// Context 是当前系统调用陷阱的上下文
// 用于获取系统调用号、参数与寄存器快照
type Context struct {
	// Pid 是当前上下文任务的 pid
	Pid int
	// Arch 是过滤器上报的审计架构标签
	Arch uint32
	// 当前寄存器上下文（平台相关）
	regs syscall.PtraceRegs
}

var (
	// UseVMReadv 决定是否使用 ProcessVMReadv 系统调用来读取字符串
	// 初始为 true，如果尝试失败并返回 ENOSYS 则变为 false
	UseVMReadv = true
	pageSize   = 4 << 10
)

func init() {
	pageSize = os.Getpagesize()
}

// getTrapContext 读取目标任务的寄存器并构造陷阱上下文
// arch 在 seccomp 停止时来自事件消息，其余场景由调用方传入宿主架构；
// 0 表示没有架构信息，按宿主架构处理
func getTrapContext(pid int, arch uint32) (*Context, error) {
	var regs syscall.PtraceRegs
	err := ptraceGetRegSet(pid, &regs)
	if err != nil {
		return nil, err
	}
	return &Context{
		Pid:  pid,
		Arch: arch,
		regs: regs,
	}, nil
}

// SyscallRecord 把上下文固化成一条不可变的系统调用记录
func (c *Context) SyscallRecord() runner.Syscall {
	return runner.Syscall{
		Arch:   c.Arch,
		Number: uint64(c.SyscallNo()),
		Args: [6]uint64{
			uint64(c.Arg0()), uint64(c.Arg1()), uint64(c.Arg2()),
			uint64(c.Arg3()), uint64(c.Arg4()), uint64(c.Arg5()),
		},
		TaskID: c.Pid,
		IP:     c.InstructionPointer(),
		SP:     c.StackPointer(),
	}
}

// Registers 把原始寄存器组转换成与平台无关的快照
func (c *Context) Registers() runner.Registers {
	return toRegisters(c.Arch, &c.regs)
}

// GetString 从进程数据段获取字符串
// 首先尝试更高效的 ProcessVMReadv，系统不支持时回退到 ptrace 读取
// 字符串以 null 字节(\0)结尾
func (c *Context) GetString(addr uintptr) string {
	buff := make([]byte, syscall.PathMax)

	if UseVMReadv {
		if err := vmReadStr(c.Pid, addr, buff); err != nil {
			// 如果系统不支持 ProcessVMReadv（返回 ENOSYS）
			// 则禁用此功能，后续使用 ptrace 读取
			if no, ok := err.(syscall.Errno); ok {
				if no == syscall.ENOSYS {
					UseVMReadv = false
				}
			}
		} else {
			return cString(buff)
		}
	}

	if err := ptraceReadStr(c.Pid, addr, buff); err != nil {
		return ""
	}
	return cString(buff)
}

// cString 截断第一个 null 字节之后的内容
func cString(buff []byte) string {
	if i := bytes.IndexByte(buff, 0); i >= 0 {
		return string(buff[:i])
	}
	return string(buff)
}
