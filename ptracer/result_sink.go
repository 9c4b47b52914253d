//go:build linux
// +build linux

package ptracer

import (
	"time"

	"github.com/zqzqsb/tracebox/runner"
)

// resultSink 以写一次语义累积最终结果
// 只有监控器线程写入，终端状态一旦设置不再被覆盖
type resultSink struct {
	finalized bool
	r         runner.Result
}

// setStatus 设置终端状态
// 第一次调用生效并返回 true，之后的调用被忽略
func (s *resultSink) setStatus(st runner.Status, reason int, errStr string) bool {
	if s.finalized {
		return false
	}
	s.finalized = true
	s.r.Status = st
	s.r.ReasonCode = reason
	s.r.Error = errStr
	return true
}

// setViolation 记录违规细节，必须与 setStatus(StatusViolation) 配对
func (s *resultSink) setViolation(kind runner.ViolationKind, sc *runner.Syscall) {
	if s.r.ViolationSyscall != nil {
		return
	}
	s.r.ViolationKind = kind
	s.r.ViolationSyscall = sc
}

// setNetworkViolation 记录网络代理上报的违规描述
func (s *resultSink) setNetworkViolation(msg string) {
	if s.r.NetworkViolation == "" {
		s.r.NetworkViolation = msg
	}
}

// setDiagnostics 附加诊断产物，每个字段只接受一次
func (s *resultSink) setDiagnostics(regs *runner.Registers, progName, maps string, frames []string) {
	if s.r.Regs == nil && regs != nil {
		s.r.Regs = regs
	}
	if s.r.ProgName == "" {
		s.r.ProgName = progName
	}
	if s.r.MemMaps == "" {
		s.r.MemMaps = maps
	}
	if s.r.StackTrace == nil {
		s.r.StackTrace = frames
	}
}

// setUsage 记录监控器收尾时的资源使用快照
func (s *resultSink) setUsage(cpu time.Duration, mem runner.Size, setup, running time.Duration) {
	s.r.Time = cpu
	s.r.Memory = mem
	s.r.SetUpTime = setup
	s.r.RunningTime = running
}

// result 返回累积的结果快照
func (s *resultSink) result() runner.Result {
	return s.r
}
