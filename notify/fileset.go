// Package notify 提供了一个基于文件访问控制的 Notify 实现
// 它把内核过滤器上报的系统调用映射成文件读/写/状态检查，
// 并按分层路径集合做出放行或拒绝的裁决
package notify

import (
	"path/filepath"
)

// FileSet 在分层集合中存储文件权限
type FileSet struct {
	Set        map[string]bool // 存储文件路径和权限标记
	SystemRoot bool            // 是否允许访问根目录
}

// NewFileSet 创建新的文件集
func NewFileSet() FileSet {
	return FileSet{make(map[string]bool), false}
}

/*
	fs := NewFileSet()
	fs.Add("/usr/bin/*")  // 添加通配符规则

	// 检查 "/usr/bin/gcc"
	Contains("/usr/bin/gcc") 的处理过程：
	1. level=0: 检查 "/usr/bin/gcc"
	2. level=1: 检查 "/usr/bin"
	- 检查 "/usr/bin/*" <- 匹配！返回 true
	3. 如果前面没匹配，继续向上逐层检查目录
*/
func (s *FileSet) Contains(name string) bool {
	if s.Set[name] {
		return true
	}
	if name == "/" && s.SystemRoot {
		return true
	}
	// 检查目录层级
	level := 0
	for level = 0; name != ""; level++ {
		if level == 1 && s.Set[name+"/*"] {
			return true
		}
		if s.Set[name+"/"] {
			return true
		}
		name = dirname(name)
	}

	if level == 1 && s.Set["/*"] {
		return true
	}
	return s.Set["/"]
}

// Add 将单个文件路径添加到 FileSet
func (s *FileSet) Add(name string) {
	if name == "/" {
		s.SystemRoot = true
	} else {
		s.Set[name] = true
	}
}

// AddRange 将多个文件添加到 FileSet
// 如果路径是相对路径，则根据 workPath 添加
func (s *FileSet) AddRange(names []string, workPath string) {
	for _, n := range names {
		if filepath.IsAbs(n) {
			if n == "/" {
				s.SystemRoot = true
			} else {
				s.Set[n] = true
			}
		} else {
			s.Set[filepath.Join(workPath, n)+"/"] = true
		}
	}
}

// FileSets 聚合读 / 写 / 状态查看三级权限
// 写权限蕴含读权限，读权限蕴含状态查看权限
type FileSets struct {
	Writable, Readable, Statable FileSet
}

// NewFileSets 创建新的 FileSets 结构
func NewFileSets() *FileSets {
	return &FileSets{NewFileSet(), NewFileSet(), NewFileSet()}
}

// IsWritableFile 判断文件路径是否在写入集合中
func (s *FileSets) IsWritableFile(name string) bool {
	return s.Writable.Contains(name) || s.Writable.Contains(realPath(name))
}

// IsReadableFile 判断文件路径是否在读取/写入集合中
func (s *FileSets) IsReadableFile(name string) bool {
	return s.IsWritableFile(name) || s.Readable.Contains(name) || s.Readable.Contains(realPath(name))
}

// IsStatableFile 判断文件路径是否在状态查看集合中
func (s *FileSets) IsStatableFile(name string) bool {
	return s.IsReadableFile(name) || s.Statable.Contains(name) || s.Statable.Contains(realPath(name))
}

// dirname 返回不带最后 "/" 的路径
// 到达根目录后返回空串，保证层级回溯一定终止
func dirname(path string) string {
	if path == "" || path == "/" {
		return ""
	}
	if path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	d := filepath.Dir(path)
	if d == path || d == "." {
		return ""
	}
	return d
}

// realPath 获取真实路径
func realPath(p string) string {
	if !filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(p)
}
