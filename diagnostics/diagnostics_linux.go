package diagnostics

import (
	"fmt"
	"os"
	"strings"

	"github.com/zqzqsb/tracebox/runner"
)

// UnwindFunc 把捕获的寄存器换成符号化栈帧
type UnwindFunc func(pid int, regs runner.Registers) ([]string, error)

// Report 是一次诊断捕获的产物
type Report struct {
	Regs     runner.Registers
	ProgName string
	MemMaps  string
	Frames   []string
}

// Collect 捕获目标任务的诊断信息
// 寄存器必须由调用方在监控器线程上读好传入，
// proc 文件的读取失败只使对应字段缺席
func Collect(pid int, regs runner.Registers, unwind UnwindFunc) *Report {
	rep := &Report{
		Regs:     regs,
		ProgName: ProgName(pid),
	}
	if maps, err := ReadMaps(pid); err == nil {
		rep.MemMaps = maps
	}
	if unwind != nil {
		frames, err := unwind(pid, regs)
		if err != nil {
			// 观察者错误：记录在帧里，不向上传播
			rep.Frames = []string{fmt.Sprintf("<unwind failed: %v>", err)}
		} else {
			rep.Frames = frames
		}
	}
	return rep
}

// ProgName 读取任务的程序名
func ProgName(pid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(b), "\n")
}

// ReadMaps 原样读取任务的内存映射
func ReadMaps(pid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
