package runner

import "time"

// Limit 定义了由监控器强制执行的资源限制
// 内存限制通过 setrlimit 在子进程侧设置，监控器只负责时间维度
type Limit struct {
	TimeLimit   time.Duration // CPU 时间限制，0 表示不限制
	MemoryLimit Size          // 内存限制，仅用于读数对照，0 表示不限制
}
