package ptracer

import (
	"fmt"
	"os"
	"strconv"
	"time"

	unix "golang.org/x/sys/unix"
)

// 附加重试的退避参数
const (
	attachBackoffStart = time.Millisecond
	attachBackoffMax   = 20 * time.Millisecond
	attachDeadline     = 2 * time.Second
)

// attachController 把子进程及其全部线程置于跟踪之下
type attachController struct {
	seize     func(pid int, opts uintptr) error
	listTasks func(pid int) ([]int, error)
	debug     func(v ...interface{})
}

func newAttachController(debug func(v ...interface{})) *attachController {
	return &attachController{
		seize:     ptraceSeize,
		listTasks: listThreads,
		debug:     debug,
	}
}

/*
	附加算法：
	 1. 可选地 seize 命名空间初始化辅助任务，不存在不算失败
	 2. 读取线程组的任务列表
	 3. 逐个 seize。EPERM 表示任务正在退出，稍后重试；
	    ESRCH 表示任务已消失，静默丢弃；其它错误致命
	 4. 指数退避重试瞬态失败的子集，1ms 起步、20ms 封顶、总限 2s
	 5. 重读任务列表。出现了未附加的新任务说明子进程
	    在我们眼皮底下产生了线程并会逃逸，判定失败
*/

// attachAll 附加主任务与它的全部线程，返回最终附加的任务集合
func (ac *attachController) attachAll(pid, initPid int) (map[int]bool, error) {
	if initPid > 0 {
		// 初始化辅助任务可能已经退出，这是正常竞争
		if err := ac.seize(initPid, traceOptions); err != nil && err != unix.ESRCH {
			ac.debug("seize init task failed:", initPid, err)
		}
	}

	tasks, err := ac.listTasks(pid)
	if err != nil {
		return nil, fmt.Errorf("attach: list tasks of %d: %w", pid, err)
	}

	attached := make(map[int]bool, len(tasks))
	pending := tasks
	backoff := attachBackoffStart
	deadline := time.Now().Add(attachDeadline)

	for len(pending) > 0 {
		var retry []int
		for _, t := range pending {
			switch err := ac.seize(t, traceOptions); err {
			case nil:
				attached[t] = true
			case unix.EPERM:
				// 任务短暂处于退出路径，重试
				retry = append(retry, t)
			case unix.ESRCH:
				// 任务已消失，退出事件不会到来，丢弃
			default:
				return nil, fmt.Errorf("attach: seize %d: %w", t, err)
			}
		}
		pending = retry
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("attach: %d tasks still unattachable after %v", len(pending), attachDeadline)
		}
		time.Sleep(backoff)
		if backoff *= 2; backoff > attachBackoffMax {
			backoff = attachBackoffMax
		}
	}

	// 附加期间产生的新线程没有被跟踪，会从沙箱逃逸
	tasks, err = ac.listTasks(pid)
	if err != nil {
		return nil, fmt.Errorf("attach: re-list tasks of %d: %w", pid, err)
	}
	for _, t := range tasks {
		if !attached[t] {
			return nil, fmt.Errorf("attach: task %d appeared during attach", t)
		}
	}
	return attached, nil
}

// listThreads 读取 /proc/<pid>/task 得到线程组的全部任务
func listThreads(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	tasks := make([]int, 0, len(entries))
	for _, e := range entries {
		t, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
