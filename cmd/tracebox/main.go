// tracebox 是监控核心的示例嵌入程序
// 它用 forkexec 启动目标程序，构建 seccomp 过滤器，
// 把进程交给 Supervisor 裁决，最后打印终端状态
// 可选地把结果追加到 sqlite 历史库
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	unix "golang.org/x/sys/unix"

	"github.com/zqzqsb/tracebox/diagnostics"
	"github.com/zqzqsb/tracebox/pkg/comms"
	"github.com/zqzqsb/tracebox/history"
	"github.com/zqzqsb/tracebox/notify"
	"github.com/zqzqsb/tracebox/pkg/forkexec"
	"github.com/zqzqsb/tracebox/pkg/pipe"
	"github.com/zqzqsb/tracebox/pkg/rlimit"
	"github.com/zqzqsb/tracebox/pkg/seccomp/libseccomp"
	"github.com/zqzqsb/tracebox/ptracer"
	"github.com/zqzqsb/tracebox/runner"
)

// defaultAllow 是不需要裁决、直接由过滤器放行的系统调用
// 其余全部以 ActionTrace 上报给监控器
var defaultAllow = []string{
	"read", "write", "readv", "writev", "close", "fstat", "lseek",
	"dup", "dup2", "dup3", "fcntl", "mmap", "mprotect", "munmap",
	"brk", "mremap", "msync", "mincore", "madvise",
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "rt_sigpending",
	"sigaltstack", "getcwd", "exit", "exit_group", "wait4",
	"gettimeofday", "getrlimit", "getrusage", "times", "time",
	"clock_gettime", "clock_getres", "nanosleep", "clock_nanosleep",
	"getpid", "gettid", "getuid", "geteuid", "getgid", "getegid",
	"getppid", "getpgrp", "arch_prctl", "set_tid_address",
	"set_robust_list", "futex", "sched_yield", "sched_getaffinity",
	"prlimit64", "getrandom", "uname",
}

// defaultTrace 是需要监控器逐个裁决的系统调用
var defaultTrace = []string{
	"open", "openat", "readlink", "readlinkat", "unlink", "unlinkat",
	"access", "faccessat", "newfstatat", "stat", "lstat",
	"execve", "execveat", "chmod", "rename",
	"clone", "clone3", "fork", "vfork",
}

type policyFlags struct {
	stackOnViolation bool
	stackOnTimeout   bool
	stackOnKill      bool
	stackOnSignal    bool
	stackOnExit      bool
}

// AllowStackTrace 按终端状态门控栈回溯收集
func (p policyFlags) AllowStackTrace(s runner.Status) bool {
	switch s {
	case runner.StatusViolation:
		return p.stackOnViolation
	case runner.StatusTimeout:
		return p.stackOnTimeout
	case runner.StatusExternalKill:
		return p.stackOnKill
	case runner.StatusSignalled:
		return p.stackOnSignal
	case runner.StatusOK:
		return p.stackOnExit
	}
	return false
}

// CollectStackTraceOnExit 正常退出是否也收集栈回溯
func (p policyFlags) CollectStackTraceOnExit() bool {
	return p.stackOnExit
}

func main() {
	// 辅助进程模式：在继承的描述符上循环应答栈展开请求
	// 对端（监控器）关闭通道后退出
	if len(os.Args) > 1 && os.Args[1] == "unwind-helper" {
		runUnwindHelper()
		return
	}

	var (
		timeLimit    = flag.Duration("time", 10*time.Second, "CPU 时间限制")
		wallLimit    = flag.Duration("wall", 30*time.Second, "墙上时钟限制，0 表示不限制")
		memLimit     = flag.Uint64("mem", 256<<20, "内存限制（字节）")
		outLimit     = flag.Int64("out", 1<<20, "输出字节数限制")
		readable     = flag.String("readable", "/usr/,/lib/,/lib64/,/etc/,/proc/", "允许读取的路径，逗号分隔")
		writable     = flag.String("writable", "/tmp/", "允许写入的路径，逗号分隔")
		showDetails  = flag.Bool("debug", false, "显示详细调试信息")
		permitAll    = flag.Bool("permit-all-and-log", false, "放行一切系统调用并记录")
		stack        = flag.Bool("stack", false, "违规、超时与信号终止时收集栈回溯")
		remoteUnwind = flag.Bool("remote-unwind", false, "栈展开交给独立的辅助进程")
		historyPath  = flag.String("history", "", "sqlite 历史库路径，空表示不记录")
	)
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tracebox [flags] prog [args...]")
		os.Exit(2)
	}

	r, err := run(args, *timeLimit, *wallLimit, *memLimit, *outLimit,
		strings.Split(*readable, ","), strings.Split(*writable, ","),
		*showDetails, *permitAll, *stack, *remoteUnwind)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracebox:", err)
		os.Exit(1)
	}

	if *historyPath != "" {
		if store, err := history.Open(*historyPath); err == nil {
			if err := store.Record(r); err != nil {
				fmt.Fprintln(os.Stderr, "tracebox: record history:", err)
			}
			store.Close()
		} else {
			fmt.Fprintln(os.Stderr, "tracebox: open history:", err)
		}
	}

	fmt.Println(r.String())
	for _, f := range r.StackTrace {
		fmt.Println("  ", f)
	}
	if r.Status != runner.StatusOK {
		os.Exit(1)
	}
}

func run(args []string, timeLimit, wallLimit time.Duration, memLimit uint64,
	outLimit int64, readable, writable []string,
	showDetails, permitAll, stack, remoteUnwind bool) (runner.Result, error) {

	// 过滤器：defaultAllow 直接放行，defaultTrace 上报裁决，
	// 其余默认也上报：文件类调用按文件集裁决，
	// 其它调用在计数器额度内放行
	builder := libseccomp.Builder{
		Allow:   defaultAllow,
		Trace:   defaultTrace,
		Default: libseccomp.ActionTrace,
	}
	filter, err := builder.Build()
	if err != nil {
		return runner.Result{}, fmt.Errorf("build filter: %w", err)
	}

	// 输出经限长管道收集
	stdout, err := pipe.NewBuffer(outLimit)
	if err != nil {
		return runner.Result{}, err
	}
	defer stdout.W.Close()
	stderr, err := pipe.NewBuffer(outLimit)
	if err != nil {
		return runner.Result{}, err
	}
	defer stderr.W.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return runner.Result{}, err
	}
	defer devNull.Close()

	rl := rlimit.RLimits{
		CPU:          uint64((timeLimit + time.Second) / time.Second),
		AddressSpace: memLimit,
		DisableCore:  true,
	}

	// 子进程在安装过滤器前以 SIGSTOP 等待，
	// 监控器 seize 之后用 SIGCONT 放行
	ch := &forkexec.Runner{
		Args:              args,
		Env:               []string{"PATH=/usr/bin:/bin"},
		Files:             []uintptr{devNull.Fd(), stdout.W.Fd(), stderr.W.Fd()},
		RLimits:           rl.PrepareRLimit(),
		Seccomp:           filter.SockFprog(),
		StopBeforeSeccomp: true,
	}
	pid, err := ch.Start()
	if err != nil {
		return runner.Result{}, fmt.Errorf("start child: %w", err)
	}

	fs := notify.NewFileSets()
	fs.Readable.AddRange(readable, "/")
	fs.Writable.AddRange(writable, "/")
	fs.Readable.Add(args[0])
	counter := notify.NewSyscallCounter()
	counter.AddRange(map[string]int{
		"clone": 32, "clone3": 32, "fork": 8, "vfork": 8,
	})
	handler := &notify.Handler{
		FileSet:        fs,
		SyscallCounter: counter,
		ShowDetails:    showDetails,
	}

	cfg := ptracer.SupervisorConfig{
		Child:  ptracer.Child{Pid: pid},
		Policy: policyFlags{stackOnViolation: stack, stackOnTimeout: stack, stackOnSignal: stack},
		Notify: handler,
		Limit: runner.Limit{
			TimeLimit:   timeLimit,
			MemoryLimit: runner.Size(memLimit),
		},
		Deadline:        wallLimit,
		PermitAllAndLog: permitAll,
		ClientDone: func() error {
			return unix.Kill(pid, unix.SIGCONT)
		},
		ShowDetails: showDetails,
	}
	if stack {
		cfg.CaptureStackTrace = diagnostics.LocalUnwind(64)
		if remoteUnwind {
			ch, helper, err := startUnwindHelper()
			if err != nil {
				return runner.Result{}, fmt.Errorf("start unwind helper: %w", err)
			}
			defer func() {
				ch.Close()
				helper.Wait()
			}()
			cfg.CaptureStackTrace = (&diagnostics.RemoteUnwinder{Channel: ch}).Unwind
		}
	}

	sup := ptracer.NewSupervisor(cfg)
	sup.RunAsync(context.Background())

	// Ctrl-C 转换成外部终止请求
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		sup.RequestKill()
	}()

	result, err := sup.AwaitResult(context.Background())
	signal.Stop(sigCh)
	if err != nil {
		return runner.Result{}, err
	}

	stdout.W.Close()
	stderr.W.Close()
	<-stdout.Done
	<-stderr.Done
	os.Stdout.Write(stdout.Buffer.Bytes())
	os.Stderr.Write(stderr.Buffer.Bytes())

	return result, nil
}

// runUnwindHelper 是辅助进程的入口，通道在 fd 3 上继承
func runUnwindHelper() {
	ch, err := comms.NewFromFD(3)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracebox: unwind helper:", err)
		os.Exit(1)
	}
	for {
		if err := diagnostics.ServeUnwind(ch); err != nil {
			return
		}
	}
}

// startUnwindHelper 以自身二进制重新执行出辅助进程，
// 用一对 SOCK_SEQPACKET 套接字连接
func startUnwindHelper() (*comms.Channel, *exec.Cmd, error) {
	fds, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_SEQPACKET|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}
	ch, err := comms.NewFromFD(fds[0])
	if err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return nil, nil, err
	}
	helperEnd := os.NewFile(uintptr(fds[1]), "unwind-helper-socket")

	cmd := exec.Command("/proc/self/exe", "unwind-helper")
	cmd.ExtraFiles = []*os.File{helperEnd} // 子进程侧是 fd 3
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ch.Close()
		helperEnd.Close()
		return nil, nil, err
	}
	helperEnd.Close()
	return ch, cmd, nil
}
