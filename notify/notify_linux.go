package notify

import (
	"fmt"
	"os"
	"path"
	"syscall"

	"github.com/zqzqsb/tracebox/pkg/seccomp/libseccomp"
	"github.com/zqzqsb/tracebox/ptracer"
	"github.com/zqzqsb/tracebox/runner"
)

// Handler 实现了基于文件访问控制的 ptracer.Notify
// 内核过滤器把文件相关的系统调用上报到这里，
// 其余放行的调用根本不会产生停止
type Handler struct {
	FileSet        *FileSets      // 文件权限集合
	SyscallCounter SyscallCounter // 系统调用计数器
	ShowDetails    bool           // 是否显示详细的调试信息

	// AllowDenied 把拒绝降级为放行并记录（调试用途）
	AllowDenied bool
}

// Debug 输出调试信息到标准错误输出
func (h *Handler) Debug(v ...interface{}) {
	if h.ShowDetails {
		fmt.Fprintln(os.Stderr, v...)
	}
}

// Syscall 对一个被截获的系统调用做出裁决
// 1. 识别系统调用号
// 2. 文件相关调用按路径权限判定
// 3. 其余调用走计数器
func (h *Handler) Syscall(ctx *ptracer.Context) ptracer.Decision {
	syscallNo := ctx.SyscallNo()
	syscallName, err := libseccomp.ToSyscallName(syscallNo)
	h.Debug("syscall:", syscallNo, syscallName, err)
	if err != nil {
		h.Debug("invalid syscall no")
		return ptracer.DecisionDeny
	}

	var d ptracer.Decision
	switch syscallName {
	// 文件打开：打开成功与否值得观察，请求返回值检查
	case "open":
		d = h.checkOpen(ctx, ctx.Arg0(), ctx.Arg1())
	case "openat":
		d = h.checkOpen(ctx, ctx.Arg1(), ctx.Arg2())

	// 符号链接读取
	case "readlink":
		d = h.checkRead(ctx, ctx.Arg0())
	case "readlinkat":
		d = h.checkRead(ctx, ctx.Arg1())

	// 文件删除
	case "unlink":
		d = h.checkWrite(ctx, ctx.Arg0())
	case "unlinkat":
		d = h.checkWrite(ctx, ctx.Arg1())

	// 文件访问权限检查
	case "access":
		d = h.checkStat(ctx, ctx.Arg0())
	case "faccessat", "newfstatat":
		d = h.checkStat(ctx, ctx.Arg1())

	// 文件状态查询
	case "stat", "stat64", "lstat", "lstat64":
		d = h.checkStat(ctx, ctx.Arg0())

	// 程序执行
	case "execve":
		d = h.checkRead(ctx, ctx.Arg0())
	case "execveat":
		d = h.checkRead(ctx, ctx.Arg1())

	// 文件权限修改与改名
	case "chmod", "rename":
		d = h.checkWrite(ctx, ctx.Arg0())

	// 其他系统调用走计数器
	default:
		if inside, allow := h.SyscallCounter.Check(syscallName); inside && !allow {
			h.Debug("syscall count exhausted:", syscallName)
			d = ptracer.DecisionDeny
		} else {
			d = ptracer.DecisionAllow
		}
	}

	if d == ptracer.DecisionDeny && h.AllowDenied {
		h.Debug("<would deny, allowed by debug override>")
		return ptracer.DecisionAllow
	}
	return d
}

// SyscallReturn 观察请求了返回值检查的调用的结果
func (h *Handler) SyscallReturn(sc runner.Syscall, retval int64) {
	h.Debug("syscall return:", sc.Number, "=", retval)
}

// Violation 记录一次违规
func (h *Handler) Violation(sc runner.Syscall) {
	h.Debug("violation:", sc.String())
}

// Signal 记录一次信号透传
func (h *Handler) Signal(pid int, sig syscall.Signal) {
	h.Debug("signal:", pid, sig)
}

// checkOpen 检查打开文件的操作是否允许
// 放行时请求返回值检查，便于观察实际拿到的描述符
func (h *Handler) checkOpen(ctx *ptracer.Context, addr uint, flags uint) ptracer.Decision {
	fn := h.getString(ctx, addr)
	// 判断是否为只读操作
	isReadOnly := (flags&syscall.O_ACCMODE == syscall.O_RDONLY) &&
		(flags&syscall.O_CREAT == 0) &&
		(flags&syscall.O_EXCL == 0) &&
		(flags&syscall.O_TRUNC == 0)

	h.Debug("open:", fn, getFileMode(flags))
	allowed := false
	if isReadOnly {
		allowed = h.FileSet.IsReadableFile(fn)
	} else {
		allowed = h.FileSet.IsWritableFile(fn)
	}
	if !allowed {
		return ptracer.DecisionDeny
	}
	return ptracer.DecisionInspect
}

// checkRead 检查读取文件的操作是否允许
func (h *Handler) checkRead(ctx *ptracer.Context, addr uint) ptracer.Decision {
	fn := h.getString(ctx, addr)
	h.Debug("check read:", fn)
	if !h.FileSet.IsReadableFile(fn) {
		return ptracer.DecisionDeny
	}
	return ptracer.DecisionAllow
}

// checkWrite 检查写入文件的操作是否允许
func (h *Handler) checkWrite(ctx *ptracer.Context, addr uint) ptracer.Decision {
	fn := h.getString(ctx, addr)
	h.Debug("check write:", fn)
	if !h.FileSet.IsWritableFile(fn) {
		return ptracer.DecisionDeny
	}
	return ptracer.DecisionAllow
}

// checkStat 检查获取文件状态的操作是否允许
func (h *Handler) checkStat(ctx *ptracer.Context, addr uint) ptracer.Decision {
	fn := h.getString(ctx, addr)
	h.Debug("check stat:", fn)
	if !h.FileSet.IsStatableFile(fn) {
		return ptracer.DecisionDeny
	}
	return ptracer.DecisionAllow
}

// getString 从目标进程的内存中读取字符串并转换为绝对路径
func (h *Handler) getString(ctx *ptracer.Context, addr uint) string {
	return absPath(ctx.Pid, ctx.GetString(uintptr(addr)))
}

// getFileMode 获取文件打开模式的字符串表示
func getFileMode(flags uint) string {
	switch flags & syscall.O_ACCMODE {
	case syscall.O_RDONLY:
		return "r "
	case syscall.O_WRONLY:
		return "w "
	case syscall.O_RDWR:
		return "wr"
	default:
		return "??"
	}
}

// getProcCwd 获取进程的当前工作目录
func getProcCwd(pid int) string {
	fileName := "/proc/self/cwd"
	if pid > 0 {
		fileName = fmt.Sprintf("/proc/%d/cwd", pid)
	}
	s, err := os.Readlink(fileName)
	if err != nil {
		return ""
	}
	return s
}

// absPath 计算进程相对的绝对路径
func absPath(pid int, p string) string {
	// 如果不是绝对路径，则基于进程的工作目录计算
	if !path.IsAbs(p) {
		return path.Join(getProcCwd(pid), p)
	}
	return path.Clean(p)
}
