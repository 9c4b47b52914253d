package ptracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	unix "golang.org/x/sys/unix"
)

func discard(v ...interface{}) {}

// fakeTaskGroup 模拟一个线程组与它的 seize 行为
type fakeTaskGroup struct {
	// lists 每次 listTasks 调用弹出一个任务列表
	lists [][]int
	// failures 指定任务前 n 次 seize 的错误
	failures map[int][]error
	seized   []int
}

func (g *fakeTaskGroup) listTasks(pid int) ([]int, error) {
	l := g.lists[0]
	if len(g.lists) > 1 {
		g.lists = g.lists[1:]
	}
	return l, nil
}

func (g *fakeTaskGroup) seize(pid int, opts uintptr) error {
	if errs := g.failures[pid]; len(errs) > 0 {
		g.failures[pid] = errs[1:]
		return errs[0]
	}
	g.seized = append(g.seized, pid)
	return nil
}

func newTestAttach(g *fakeTaskGroup) *attachController {
	return &attachController{seize: g.seize, listTasks: g.listTasks, debug: discard}
}

func TestAttachAllTasks(t *testing.T) {
	g := &fakeTaskGroup{lists: [][]int{{100, 101, 102}}}
	ac := newTestAttach(g)

	attached, err := ac.attachAll(100, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{100: true, 101: true, 102: true}, attached)
}

// TestAttachRetriesTransient 验证 EPERM 在退避下重试
func TestAttachRetriesTransient(t *testing.T) {
	g := &fakeTaskGroup{
		lists:    [][]int{{100, 101}},
		failures: map[int][]error{101: {unix.EPERM, unix.EPERM}},
	}
	ac := newTestAttach(g)

	attached, err := ac.attachAll(100, 0)
	require.NoError(t, err)
	assert.True(t, attached[101])
}

// TestAttachDropsDeadTask 验证 ESRCH 的任务被静默丢弃
func TestAttachDropsDeadTask(t *testing.T) {
	g := &fakeTaskGroup{
		lists:    [][]int{{100, 101}, {100}},
		failures: map[int][]error{101: {unix.ESRCH}},
	}
	ac := newTestAttach(g)

	attached, err := ac.attachAll(100, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{100: true}, attached)
}

// TestAttachFailsOnNewTask 验证附加期间出现的新线程导致失败
func TestAttachFailsOnNewTask(t *testing.T) {
	g := &fakeTaskGroup{lists: [][]int{{100}, {100, 999}}}
	ac := newTestAttach(g)

	_, err := ac.attachAll(100, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "999")
}

// TestAttachFatalError 验证未知错误直接失败
func TestAttachFatalError(t *testing.T) {
	g := &fakeTaskGroup{
		lists:    [][]int{{100}},
		failures: map[int][]error{100: {unix.EIO}},
	}
	ac := newTestAttach(g)

	_, err := ac.attachAll(100, 0)
	assert.Error(t, err)
}

// TestAttachInitTaskGone 验证初始化辅助任务已消失不算失败
func TestAttachInitTaskGone(t *testing.T) {
	g := &fakeTaskGroup{
		lists:    [][]int{{100}},
		failures: map[int][]error{55: {unix.ESRCH}},
	}
	ac := newTestAttach(g)

	attached, err := ac.attachAll(100, 55)
	require.NoError(t, err)
	assert.True(t, attached[100])
}
