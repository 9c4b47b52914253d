package ptracer

import (
	"syscall"

	unix "golang.org/x/sys/unix"

	"github.com/zqzqsb/tracebox/runner"
)

/*
	; x86_64 系统调用参数顺序
	syscall_number -> rax    ; 系统调用号
	arg0 -> rdi             ; 第1个参数
	arg1 -> rsi             ; 第2个参数
	arg2 -> rdx             ; 第3个参数
	arg3 -> r10            ; 第4个参数（注意：不是 rcx）
	arg4 -> r8             ; 第5个参数
	arg5 -> r9             ; 第6个参数
*/

// hostAuditArch 是宿主机的审计架构标签
const hostAuditArch = unix.AUDIT_ARCH_X86_64

// SyscallNo 获取当前系统调用号
// 使用 Orig_rax 而不是 rax，因为 rax 会被系统调用返回值覆盖
func (c *Context) SyscallNo() uint {
	return uint(c.regs.Orig_rax)
}

// Arg0 获取当前系统调用的 arg0
func (c *Context) Arg0() uint {
	return uint(c.regs.Rdi)
}

// Arg1 获取当前系统调用的 arg1
func (c *Context) Arg1() uint {
	return uint(c.regs.Rsi)
}

// Arg2 获取当前系统调用的 arg2
func (c *Context) Arg2() uint {
	return uint(c.regs.Rdx)
}

// Arg3 获取当前系统调用的 arg3
func (c *Context) Arg3() uint {
	return uint(c.regs.R10)
}

// Arg4 获取当前系统调用的 arg4
func (c *Context) Arg4() uint {
	return uint(c.regs.R8)
}

// Arg5 获取当前系统调用的 arg5
func (c *Context) Arg5() uint {
	return uint(c.regs.R9)
}

// InstructionPointer 获取指令指针
func (c *Context) InstructionPointer() uintptr {
	return uintptr(c.regs.Rip)
}

// StackPointer 获取栈指针
func (c *Context) StackPointer() uintptr {
	return uintptr(c.regs.Rsp)
}

// FramePointer 获取帧指针，用于回退栈展开
func (c *Context) FramePointer() uintptr {
	return uintptr(c.regs.Rbp)
}

// ReturnValue 获取系统调用的返回值（仅在 syscall-exit-stop 有意义）
func (c *Context) ReturnValue() int64 {
	return int64(c.regs.Rax)
}

// SetReturnValue 在跳过系统调用时设置返回值
func (c *Context) SetReturnValue(retval int) {
	c.regs.Rax = uint64(retval)
}

// skipSyscall 跳过当前系统调用
// 把系统调用号设置为 -1，同时把返回值预置成 -ENOSYS
// 这样即使内核侧因为竞争仍然执行了调用，进程看到的也是错误
func (c *Context) skipSyscall() error {
	c.regs.Orig_rax = ^uint64(0)
	errno := int64(unix.ENOSYS)
	c.regs.Rax = uint64(-errno)
	return syscall.PtraceSetRegs(c.Pid, &c.regs)
}

// ptraceGetRegSet 获取寄存器集
// 进程必须处于被跟踪状态
func ptraceGetRegSet(pid int, regs *syscall.PtraceRegs) error {
	return syscall.PtraceGetRegs(pid, regs)
}

// toRegisters 把 amd64 的原始寄存器组转换成与平台无关的快照
func toRegisters(arch uint32, regs *syscall.PtraceRegs) runner.Registers {
	if arch == 0 {
		arch = hostAuditArch
	}
	r := runner.Registers{
		Arch: arch,
		IP:   uintptr(regs.Rip),
		SP:   uintptr(regs.Rsp),
		BP:   uintptr(regs.Rbp),
	}
	copy(r.GP[:], []uint64{
		regs.R15, regs.R14, regs.R13, regs.R12, regs.Rbp, regs.Rbx,
		regs.R11, regs.R10, regs.R9, regs.R8, regs.Rax, regs.Rcx,
		regs.Rdx, regs.Rsi, regs.Rdi, regs.Orig_rax, regs.Rip,
		regs.Cs, regs.Eflags, regs.Rsp, regs.Ss, regs.Fs_base,
		regs.Gs_base, regs.Ds, regs.Es, regs.Fs, regs.Gs,
	})
	return r
}
