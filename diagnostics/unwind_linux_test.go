package diagnostics

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zqzqsb/tracebox/pkg/comms"
	"github.com/zqzqsb/tracebox/runner"
)

// fakeMemory 用 map 模拟目标进程的内存
type fakeMemory map[uint64]uint64

func (m fakeMemory) ReadAt(p []byte, off int64) (int, error) {
	v, ok := m[uint64(off)]
	if !ok {
		return 0, assert.AnError
	}
	binary.LittleEndian.PutUint64(p, v)
	return 8, nil
}

func TestWalkFramePointers(t *testing.T) {
	table := &SymbolTable{syms: []symbol{
		{addr: 0x1000, name: "leaf"},
		{addr: 0x2000, name: "middle"},
		{addr: 0x3000, name: "entry"},
	}}
	// 两层帧：fp0 -> fp1 -> 断裂
	mem := fakeMemory{
		0x7f08: 0x2010, // [fp0+8] 返回地址
		0x7f00: 0x7f80, // [fp0] 上一帧
		0x7f88: 0x3020, // [fp1+8]
		0x7f80: 0x0000, // [fp1] 链结束
	}
	regs := runner.Registers{IP: 0x1004, BP: 0x7f00}

	frames := WalkFramePointers(mem, regs, table, 16)
	require.Len(t, frames, 3)
	assert.Equal(t, "leaf+0x4", frames[0])
	assert.Equal(t, "middle+0x10", frames[1])
	assert.Equal(t, "entry+0x20", frames[2])
}

// TestWalkFramePointersBudget 验证帧数预算生效
func TestWalkFramePointersBudget(t *testing.T) {
	table := &SymbolTable{syms: []symbol{{addr: 0x1000, name: "f"}}}
	// 自引用的帧链会无限延伸，预算必须截断它
	mem := fakeMemory{}
	fp := uint64(0x7000)
	for i := 0; i < 100; i++ {
		mem[fp+8] = 0x1008
		mem[fp] = fp + 16
		fp += 16
	}
	regs := runner.Registers{IP: 0x1000, BP: 0x7000}

	frames := WalkFramePointers(mem, regs, table, 8)
	assert.Len(t, frames, 8)
}

// TestRemoteUnwindRoundTrip 让 RemoteUnwinder 与 ServeUnwind
// 隔着一对真实套接字完成一次完整的展开请求
func TestRemoteUnwindRoundTrip(t *testing.T) {
	a, b, err := comms.NewPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	served := make(chan error, 1)
	go func() {
		served <- ServeUnwind(b)
	}()

	// 目标是测试进程自己：/proc/self 的 maps 与 mem 都可读
	// BP 为零，帧链只有捕获点一帧
	regs := runner.Registers{IP: 0x1000}
	u := &RemoteUnwinder{Channel: a, MaxFrames: 8}
	frames, err := u.Unwind(os.Getpid(), regs)
	require.NoError(t, err)
	require.NoError(t, <-served)
	require.Len(t, frames, 1)
	assert.NotEmpty(t, frames[0])
}

// TestServeUnwindClosedChannel 验证对端关闭后服务循环能退出
func TestServeUnwindClosedChannel(t *testing.T) {
	a, b, err := comms.NewPair()
	require.NoError(t, err)
	defer b.Close()
	a.Close()

	assert.Error(t, ServeUnwind(b))
}

// TestRegistersRoundTrip 验证寄存器快照的序列化往返
func TestRegistersRoundTrip(t *testing.T) {
	regs := runner.Registers{Arch: 0xc000003e, IP: 0x1234, SP: 0x5678, BP: 0x9abc}
	regs.GP[0] = 42
	regs.GP[31] = 99

	got, err := DecodeRegisters(encodeRegisters(regs))
	require.NoError(t, err)
	assert.Equal(t, regs, got)
}

func TestDecodeRegistersShortInput(t *testing.T) {
	_, err := DecodeRegisters([]byte{1, 2, 3})
	assert.Error(t, err)
}
