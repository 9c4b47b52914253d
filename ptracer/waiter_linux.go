package ptracer

import (
	unix "golang.org/x/sys/unix"
)

/*
	wait4(WNOHANG) 在多个任务同时就绪时偏向最近活跃的任务，
	高负载下会饿死其它任务。taskWaiter 用批量收割解决：
	每次补充时反复发起非阻塞收割，第一次指向优先任务，
	之后指向任意任务，直到内核报告没有更多就绪事件，
	把每个 (pid, status) 缓存进队列。调用方从队首逐个消费，
	队列耗尽后才发生下一次补充。
	因此任意两次补充之间，每个就绪任务都恰好被观察一次。
*/

// waitKind 是一次 wait 调用的结果类别
type waitKind int

const (
	// waitReady 表示取到了一个任务状态
	waitReady waitKind = iota
	// waitIdle 表示没有任何就绪事件
	waitIdle
	// waitError 表示收割调用出错
	waitError
)

// waitEvent 是一个被缓存的任务状态
type waitEvent struct {
	pid    int
	status unix.WaitStatus
	rusage unix.Rusage
}

// waitFunc 是注入的内核收割原语，便于测试替换
type waitFunc func(pid int, ws *unix.WaitStatus, options int, ru *unix.Rusage) (int, error)

// taskWaiter 公平地批量收割跟踪组的任务状态
type taskWaiter struct {
	// priority 是每次补充时第一个被询问的任务（主任务）
	priority int
	wait     waitFunc

	buf []waitEvent
	// 补充期间遇到的错误被推迟到队列耗尽后返回一次
	deferred error
}

func newTaskWaiter(priority int) *taskWaiter {
	return &taskWaiter{priority: priority, wait: unix.Wait4}
}

// next 返回下一个任务状态
// 约定：
//   - waitReady 携带一个 (pid, status) 对
//   - waitIdle 当且仅当队列为空且上次补充没有事件也没有错误
//   - waitError 在队列耗尽后返回一次被推迟的错误，随后清除
func (w *taskWaiter) next() (waitEvent, waitKind, error) {
	if len(w.buf) == 0 {
		w.refill()
	}
	if len(w.buf) > 0 {
		ev := w.buf[0]
		w.buf = w.buf[1:]
		return ev, waitReady, nil
	}
	if w.deferred != nil {
		err := w.deferred
		w.deferred = nil
		return waitEvent{}, waitError, err
	}
	return waitEvent{}, waitIdle, nil
}

// refill 批量收割直到内核报告没有更多就绪事件
func (w *taskWaiter) refill() {
	pid := w.priority
	for {
		var (
			ws unix.WaitStatus
			ru unix.Rusage
		)
		p, err := w.wait(pid, &ws, unix.WNOHANG|unix.WALL, &ru)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			// 优先任务可能已被收割，ECHILD 时退回到任意任务
			if pid != -1 && err == unix.ECHILD {
				pid = -1
				continue
			}
			w.deferred = err
			return
		}
		if p <= 0 {
			// 没有更多就绪事件
			if pid != -1 {
				// 优先任务没有事件，还要问一遍任意任务
				pid = -1
				continue
			}
			return
		}
		w.buf = append(w.buf, waitEvent{pid: p, status: ws, rusage: ru})
		pid = -1
	}
}
