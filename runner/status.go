// Package runner 提供了监控器结果与共享数据模型的基本定义
package runner

// Status 是监控器的终端状态
type Status int

// 监控器结束时的终端状态
const (
	StatusInvalid Status = iota // 0 未初始化
	// 正常退出
	StatusOK // 1 正常

	// 运行时终止
	StatusSignalled // 2 被信号终止
	StatusViolation // 3 违规（系统调用 / 架构切换 / 网络）

	// 外部干预
	StatusTimeout      // 4 超出时间限制（墙上时钟或 CPU 时间）
	StatusExternalKill // 5 被嵌入方主动终止

	// 监控器自身的失败
	StatusSetupError    // 6 初始化失败
	StatusInternalError // 7 内部错误
)

var (
	statusString = []string{
		"无效",
		"正常",
		"被信号终止",
		"违规",
		"超出时间限制",
		"被外部终止",
		"初始化失败",
		"内部错误",
	}
)

func (t Status) String() string {
	i := int(t)
	if i >= 0 && i < len(statusString) {
		return statusString[i]
	}
	return statusString[0]
}

func (t Status) Error() string {
	return t.String()
}

// ViolationKind 区分违规的具体类别
type ViolationKind int

const (
	// ViolationSyscall 表示策略拒绝了一个被截获的系统调用
	ViolationSyscall ViolationKind = iota
	// ViolationArchSwitch 表示被跟踪进程切换了指令集架构
	// 通常是为了绕过按架构编译的过滤器
	ViolationArchSwitch
	// ViolationNetwork 表示网络代理上报了网络策略违规
	ViolationNetwork
)

// SetupFailure 细分初始化失败的原因
type SetupFailure int

const (
	FailedSignals SetupFailure = iota + 1 // 信号设置失败
	FailedPtrace                          // ptrace 附加失败
	FailedMonitor                         // 监控线程启动失败
)

// InternalFailure 细分内部错误的原因
type InternalFailure int

const (
	FailedChild     InternalFailure = iota + 1 // 主进程在收割前消失
	FailedKill                                 // 无法杀死被跟踪进程
	FailedInterrupt                            // 无法中断被跟踪进程
	FailedFetch                                // 无法读取寄存器
	FailedInspect                              // 系统调用返回检查时找不到记录
	FailedGetEvent                             // 无法获取 ptrace 事件消息
)
