package diagnostics

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/zqzqsb/tracebox/pkg/comms"
	"github.com/zqzqsb/tracebox/runner"
)

// defaultMaxFrames 是一次栈展开的帧数预算
const defaultMaxFrames = 64

/*
	栈展开辅助进程是一个自身也被沙箱化的子进程，
	监控核心既不链接它也不给它更大的权限。
	协议（监控器 → 辅助进程）：
	  u32 目标任务 ID
	  u32 帧数预算
	  寄存器快照（小端序列化）
	  目标任务 /proc/<pid>/mem 的文件描述符
	回复（辅助进程 → 监控器）：
	  u32 帧数 n，随后 n 条符号化帧
*/

// RemoteUnwinder 把栈展开委托给辅助进程
type RemoteUnwinder struct {
	Channel   *comms.Channel
	MaxFrames int
}

// Unwind 请求辅助进程展开目标任务的栈
// 辅助进程失败时回退到监控器进程内的帧指针展开
func (u *RemoteUnwinder) Unwind(pid int, regs runner.Registers) ([]string, error) {
	frames, err := u.remote(pid, regs)
	if err == nil {
		return frames, nil
	}
	// 辅助进程失败且有帧指针时，在本进程内以完整的帧数预算重新做帧指针展开；
	// 辅助进程已返回的部分帧被丢弃
	if regs.BP != 0 {
		return LocalUnwind(u.maxFrames())(pid, regs)
	}
	return nil, err
}

func (u *RemoteUnwinder) maxFrames() int {
	if u.MaxFrames > 0 {
		return u.MaxFrames
	}
	return defaultMaxFrames
}

func (u *RemoteUnwinder) remote(pid int, regs runner.Registers) ([]string, error) {
	mem, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, fmt.Errorf("unwind: open target memory: %w", err)
	}
	defer mem.Close()

	if err := u.Channel.SendU32(uint32(pid)); err != nil {
		return nil, err
	}
	if err := u.Channel.SendU32(uint32(u.maxFrames())); err != nil {
		return nil, err
	}
	if err := u.Channel.SendBytes(encodeRegisters(regs)); err != nil {
		return nil, err
	}
	if err := u.Channel.SendFD(mem); err != nil {
		return nil, err
	}

	n, err := u.Channel.RecvU32()
	if err != nil {
		return nil, err
	}
	frames := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		f, err := u.Channel.RecvString()
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// encodeRegisters 小端序列化寄存器快照
func encodeRegisters(regs runner.Registers) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, regs.Arch)
	binary.Write(&buf, binary.LittleEndian, uint64(regs.IP))
	binary.Write(&buf, binary.LittleEndian, uint64(regs.SP))
	binary.Write(&buf, binary.LittleEndian, uint64(regs.BP))
	binary.Write(&buf, binary.LittleEndian, regs.GP)
	return buf.Bytes()
}

// DecodeRegisters 还原 encodeRegisters 的序列化
// 供辅助进程侧使用
func DecodeRegisters(b []byte) (runner.Registers, error) {
	var (
		r        runner.Registers
		ip, sp, bp uint64
	)
	buf := bytes.NewReader(b)
	if err := binary.Read(buf, binary.LittleEndian, &r.Arch); err != nil {
		return r, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &ip); err != nil {
		return r, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &sp); err != nil {
		return r, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &bp); err != nil {
		return r, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &r.GP); err != nil {
		return r, err
	}
	r.IP, r.SP, r.BP = uintptr(ip), uintptr(sp), uintptr(bp)
	return r, nil
}

// ServeUnwind 在辅助进程侧应答一次展开请求
// 对端关闭通道时返回该错误，调用方以此结束服务循环
func ServeUnwind(ch *comms.Channel) error {
	pid, err := ch.RecvU32()
	if err != nil {
		return err
	}
	budget, err := ch.RecvU32()
	if err != nil {
		return err
	}
	rb, err := ch.RecvBytes()
	if err != nil {
		return err
	}
	regs, err := DecodeRegisters(rb)
	if err != nil {
		return err
	}
	mem, err := ch.RecvFD()
	if err != nil {
		return err
	}
	defer mem.Close()

	// 符号表按目标任务的内存映射现场构建，
	// 栈内容只经由收到的描述符读取
	var table *SymbolTable
	if raw, err := ReadMaps(int(pid)); err == nil {
		table = BuildSymbolTable(ParseMaps(raw))
	} else {
		table = &SymbolTable{}
	}
	frames := WalkFramePointers(mem, regs, table, int(budget))

	if err := ch.SendU32(uint32(len(frames))); err != nil {
		return err
	}
	for _, f := range frames {
		if err := ch.SendString(f); err != nil {
			return err
		}
	}
	return nil
}

// LocalUnwind 返回一个监控器进程内的帧指针展开器
// 没有辅助进程可用时的退路，也是 RemoteUnwinder 在辅助进程失败时的回退路径
func LocalUnwind(maxFrames int) UnwindFunc {
	if maxFrames <= 0 {
		maxFrames = defaultMaxFrames
	}
	return func(pid int, regs runner.Registers) ([]string, error) {
		raw, err := ReadMaps(pid)
		if err != nil {
			return nil, fmt.Errorf("unwind: read maps: %w", err)
		}
		table := BuildSymbolTable(ParseMaps(raw))

		mem, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
		if err != nil {
			return nil, fmt.Errorf("unwind: open target memory: %w", err)
		}
		defer mem.Close()

		return WalkFramePointers(mem, regs, table, maxFrames), nil
	}
}

// WalkFramePointers 沿帧指针链展开
// amd64 布局：[fp] 是上一帧的 fp，[fp+8] 是返回地址
// 链断裂（读失败 / fp 不前进）时停止
func WalkFramePointers(mem io.ReaderAt, regs runner.Registers, table *SymbolTable, maxFrames int) []string {
	frames := []string{table.Symbolize(uint64(regs.IP))}
	fp := uint64(regs.BP)
	for len(frames) < maxFrames && fp != 0 {
		ret, ok := readWord(mem, fp+8)
		if !ok || ret == 0 {
			break
		}
		frames = append(frames, table.Symbolize(ret))
		next, ok := readWord(mem, fp)
		if !ok || next <= fp {
			break
		}
		fp = next
	}
	return frames
}

func readWord(mem io.ReaderAt, addr uint64) (uint64, bool) {
	var b [8]byte
	if _, err := mem.ReadAt(b[:], int64(addr)); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[:]), true
}
