// Package comms 提供监控器、子进程与栈展开辅助进程之间的
// 消息通道，支持传递文件描述符
// 底层是 SOCK_SEQPACKET 的 unix socket，内核保证消息边界；
// 消息本身不带长度前缀，一次发送即一条消息
package comms

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/zqzqsb/tracebox/pkg/unixsocket"
	"github.com/zqzqsb/tracebox/runner"
)

// ClientDone 是附加完成后监控器向子进程发送的放行字
const ClientDone uint32 = 0x434c4e44 // "CLND"

// maxMsgSize 是单条消息的上限，守住辅助进程的内存
const maxMsgSize = 1 << 20

// Channel 是一条消息通道
type Channel struct {
	s *unixsocket.Socket
}

// New 用现有的 socket 构造通道
func New(s *unixsocket.Socket) *Channel {
	return &Channel{s: s}
}

// NewFromFD 用一个 SOCK_SEQPACKET 文件描述符构造通道
func NewFromFD(fd int) (*Channel, error) {
	s, err := unixsocket.NewSocket(fd)
	if err != nil {
		return nil, err
	}
	return &Channel{s: s}, nil
}

// NewPair 构造一对相连的通道
func NewPair() (*Channel, *Channel, error) {
	a, b, err := unixsocket.NewSocketPair()
	if err != nil {
		return nil, nil, err
	}
	return &Channel{s: a}, &Channel{s: b}, nil
}

// Close 关闭通道
func (c *Channel) Close() error {
	return c.s.Close()
}

// SendU32 发送一个 32 位字
func (c *Channel) SendU32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.s.SendMsg(b[:], unixsocket.Msg{})
}

// RecvU32 接收一个 32 位字
func (c *Channel) RecvU32() (uint32, error) {
	var b [4]byte
	n, _, err := c.s.RecvMsg(b[:])
	if err != nil {
		return 0, err
	}
	if n != 4 {
		return 0, fmt.Errorf("comms: u32 message has %d bytes", n)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// SendBytes 发送一条变长消息
func (c *Channel) SendBytes(b []byte) error {
	if len(b) > maxMsgSize {
		return fmt.Errorf("comms: message of %d bytes exceeds limit", len(b))
	}
	return c.s.SendMsg(b, unixsocket.Msg{})
}

// RecvBytes 接收一条变长消息
func (c *Channel) RecvBytes() ([]byte, error) {
	b := make([]byte, maxMsgSize)
	n, _, err := c.s.RecvMsg(b)
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

// SendString 发送一个字符串
func (c *Channel) SendString(str string) error {
	return c.SendBytes([]byte(str))
}

// RecvString 接收一个字符串
func (c *Channel) RecvString() (string, error) {
	b, err := c.RecvBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SendFD 发送一个文件描述符
func (c *Channel) SendFD(f *os.File) error {
	return c.s.SendMsg([]byte{0}, unixsocket.Msg{Fds: []int{int(f.Fd())}})
}

// RecvFD 接收一个文件描述符
func (c *Channel) RecvFD() (*os.File, error) {
	var b [1]byte
	_, msg, err := c.s.RecvMsg(b[:])
	if err != nil {
		return nil, err
	}
	if len(msg.Fds) != 1 {
		return nil, fmt.Errorf("comms: expected 1 fd, got %d", len(msg.Fds))
	}
	return os.NewFile(uintptr(msg.Fds[0]), "comms-fd"), nil
}

// SendStatus 发送一个终端状态字
func (c *Channel) SendStatus(st runner.Status) error {
	return c.SendU32(uint32(st))
}

// RecvStatus 接收一个终端状态字
func (c *Channel) RecvStatus() (runner.Status, error) {
	v, err := c.RecvU32()
	if err != nil {
		return runner.StatusInvalid, err
	}
	return runner.Status(v), nil
}
