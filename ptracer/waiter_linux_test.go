package ptracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	unix "golang.org/x/sys/unix"
)

// scriptedWait 按脚本回放内核收割的返回序列
type scriptedWait struct {
	// 每次调用弹出一个条目
	script []scriptEntry
	// 记录每次调用请求的 pid
	asked []int
}

type scriptEntry struct {
	pid int
	err error
}

func (s *scriptedWait) wait(pid int, ws *unix.WaitStatus, options int, ru *unix.Rusage) (int, error) {
	s.asked = append(s.asked, pid)
	if len(s.script) == 0 {
		return 0, nil
	}
	e := s.script[0]
	s.script = s.script[1:]
	return e.pid, e.err
}

// TestWaiterFairDrain 验证两次补充之间每个就绪任务恰好出现一次
func TestWaiterFairDrain(t *testing.T) {
	sw := &scriptedWait{script: []scriptEntry{
		{pid: 100}, {pid: 101}, {pid: 102}, {pid: 0},
	}}
	w := &taskWaiter{priority: 100, wait: sw.wait}

	var got []int
	for i := 0; i < 3; i++ {
		ev, kind, err := w.next()
		require.NoError(t, err)
		require.Equal(t, waitReady, kind)
		got = append(got, ev.pid)
	}
	assert.Equal(t, []int{100, 101, 102}, got)

	// 第一次询问指向优先任务，之后指向任意任务
	assert.Equal(t, 100, sw.asked[0])
	for _, p := range sw.asked[1:] {
		assert.Equal(t, -1, p)
	}
}

// TestWaiterIdle 验证没有就绪事件时返回 Idle
func TestWaiterIdle(t *testing.T) {
	sw := &scriptedWait{script: []scriptEntry{{pid: 0}, {pid: 0}}}
	w := &taskWaiter{priority: 42, wait: sw.wait}

	_, kind, err := w.next()
	assert.NoError(t, err)
	assert.Equal(t, waitIdle, kind)
	// 优先任务没有事件后还要问一遍任意任务
	assert.Equal(t, []int{42, -1}, sw.asked)
}

// TestWaiterDeferredError 验证错误推迟到队列耗尽后返回一次
func TestWaiterDeferredError(t *testing.T) {
	sw := &scriptedWait{script: []scriptEntry{
		{pid: 7}, {err: unix.ECHILD},
	}}
	w := &taskWaiter{priority: 7, wait: sw.wait}

	// 已缓存的事件先被消费
	ev, kind, err := w.next()
	require.NoError(t, err)
	require.Equal(t, waitReady, kind)
	assert.Equal(t, 7, ev.pid)

	// 队列耗尽后错误返回一次
	_, kind, err = w.next()
	assert.Equal(t, waitError, kind)
	assert.Equal(t, unix.ECHILD, err)

	// 之后错误被清除
	_, kind, err = w.next()
	assert.NoError(t, err)
	assert.Equal(t, waitIdle, kind)
}

// TestWaiterEINTRRetry 验证 EINTR 被重试而不是上报
func TestWaiterEINTRRetry(t *testing.T) {
	sw := &scriptedWait{script: []scriptEntry{
		{err: unix.EINTR}, {pid: 9}, {pid: 0},
	}}
	w := &taskWaiter{priority: 9, wait: sw.wait}

	ev, kind, err := w.next()
	require.NoError(t, err)
	require.Equal(t, waitReady, kind)
	assert.Equal(t, 9, ev.pid)
}

// TestWaiterPriorityReapedFallsBack 验证优先任务已收割时退回任意任务
func TestWaiterPriorityReapedFallsBack(t *testing.T) {
	sw := &scriptedWait{script: []scriptEntry{
		{err: unix.ECHILD}, {pid: 11}, {pid: 0},
	}}
	w := &taskWaiter{priority: 10, wait: sw.wait}

	ev, kind, err := w.next()
	require.NoError(t, err)
	require.Equal(t, waitReady, kind)
	assert.Equal(t, 11, ev.pid)
	assert.Equal(t, 10, sw.asked[0])
	assert.Equal(t, -1, sw.asked[1])
}
