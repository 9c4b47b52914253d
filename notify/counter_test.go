package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyscallCounter(t *testing.T) {
	c := NewSyscallCounter()
	c.Add("clone", 3)

	// 不在计数器中的调用
	inside, allow := c.Check("read")
	assert.False(t, inside)
	assert.True(t, allow)

	// 前两次允许，第三次耗尽
	inside, allow = c.Check("clone")
	assert.True(t, inside)
	assert.True(t, allow)
	inside, allow = c.Check("clone")
	assert.True(t, inside)
	assert.True(t, allow)
	inside, allow = c.Check("clone")
	assert.True(t, inside)
	assert.False(t, allow)
}

func TestSyscallCounterAddRange(t *testing.T) {
	c := NewSyscallCounter()
	c.AddRange(map[string]int{"fork": 1, "vfork": 2})
	_, allow := c.Check("fork")
	assert.False(t, allow)
	_, allow = c.Check("vfork")
	assert.True(t, allow)
}
