package ptracer

import (
	unix "golang.org/x/sys/unix"

	"github.com/zqzqsb/tracebox/pkg/seccomp/libseccomp"
	"github.com/zqzqsb/tracebox/runner"
)

// explainViolation 给出一次违规的可读解释
// 对若干常见的逃逸手法给出针对性说明，其余返回空串
func explainViolation(sc runner.Syscall) string {
	if sc.Arch != hostAuditArch {
		return "syscall issued under a different architecture than the host," +
			" typically an attempt to evade the compiled filter"
	}

	name, err := libseccomp.ToSyscallName(uint(sc.Number))
	if err != nil {
		return ""
	}
	switch name {
	case "ptrace":
		return "the ptrace syscall would let the tracee manipulate other" +
			" tasks under trace, so it is blocked"
	case "bpf":
		return "the bpf syscall would let the tracee load kernel programs," +
			" so it is blocked"
	case "clone", "clone3":
		if sc.Args[0]&unix.CLONE_UNTRACED != 0 {
			return "clone with CLONE_UNTRACED would create a task outside" +
				" the trace group, so it is blocked"
		}
	}
	return ""
}
