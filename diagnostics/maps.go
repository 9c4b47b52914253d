// Package diagnostics 在违规、致命信号或操作员请求时
// 捕获被跟踪任务的寄存器、内存映射与符号化栈回溯
package diagnostics

import (
	"bufio"
	"fmt"
	"strings"
)

// Mapping 是 /proc/<pid>/maps 的一行
type Mapping struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Path   string
	// Deleted 标记底层文件已被删除的映射
	Deleted bool
}

// Executable 判断映射是否可执行
func (m Mapping) Executable() bool {
	return strings.Contains(m.Perms, "x")
}

// FileBacked 判断映射是否有底层文件
// 匿名映射与 [stack]/[vdso] 一类的伪路径都不算
func (m Mapping) FileBacked() bool {
	return m.Path != "" && strings.HasPrefix(m.Path, "/")
}

// ParseMaps 解析 /proc/<pid>/maps 的原文
// 解析失败的行被跳过，不影响其余行
func ParseMaps(raw string) []Mapping {
	var maps []Mapping
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var (
			m        Mapping
			dev      string
			inode    uint64
		)
		// 格式: start-end perms offset dev inode [path]
		n, err := fmt.Sscanf(line, "%x-%x %s %x %s %d",
			&m.Start, &m.End, &m.Perms, &m.Offset, &dev, &inode)
		if err != nil || n < 6 {
			continue
		}
		// 路径列是剩下的全部内容，可能含空格
		if i := strings.IndexByte(line, '/'); i >= 0 {
			m.Path = line[i:]
		} else if i := strings.IndexByte(line, '['); i >= 0 {
			m.Path = line[i:]
		}
		if strings.HasSuffix(m.Path, " (deleted)") {
			m.Path = strings.TrimSuffix(m.Path, " (deleted)")
			m.Deleted = true
		}
		maps = append(maps, m)
	}
	return maps
}
