package diagnostics

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// symbol 是符号表里的一个条目，按地址排序
type symbol struct {
	addr uint64
	name string
}

// SymbolTable 把指令指针映射回符号名
// 只从有底层文件、可执行且未被删除的映射构建
type SymbolTable struct {
	syms []symbol
}

// elfOpener 是注入的 ELF 打开原语，便于测试替换
type elfOpener func(path string) (*elf.File, error)

// BuildSymbolTable 从内存映射构建符号表
// 单个文件的失败只使该文件缺席，不影响其余映射
func BuildSymbolTable(maps []Mapping) *SymbolTable {
	return buildSymbolTable(maps, elf.Open)
}

func buildSymbolTable(maps []Mapping, open elfOpener) *SymbolTable {
	t := &SymbolTable{}
	seen := make(map[string]bool)
	for _, m := range maps {
		if !m.FileBacked() || !m.Executable() || m.Deleted {
			continue
		}
		if seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		f, err := open(m.Path)
		if err != nil {
			continue
		}
		t.addFile(m, f)
		f.Close()
	}
	sort.Slice(t.syms, func(i, j int) bool { return t.syms[i].addr < t.syms[j].addr })
	return t
}

// addFile 把一个 ELF 文件的符号并入表中
// 位置无关映射的符号地址要加上 (映射起点 - 映射文件偏移) 的偏置，
// 非 PIE 映射直接使用符号地址
func (t *SymbolTable) addFile(m Mapping, f *elf.File) {
	var bias uint64
	if f.Type == elf.ET_DYN {
		bias = m.Start - m.Offset
	}
	add := func(syms []elf.Symbol) {
		for _, s := range syms {
			if s.Value == 0 || s.Name == "" {
				continue
			}
			if isMappingSymbol(s.Name) {
				continue
			}
			t.syms = append(t.syms, symbol{addr: s.Value + bias, name: s.Name})
		}
	}
	if syms, err := f.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := f.DynamicSymbols(); err == nil {
		add(syms)
	}
}

// isMappingSymbol 过滤 ARM 的架构映射符号
// $x / $d / $t / $a / $v，可能带 ".数字" 后缀
func isMappingSymbol(name string) bool {
	if len(name) < 2 || name[0] != '$' {
		return false
	}
	switch name[1] {
	case 'x', 'd', 't', 'a', 'v':
	default:
		return false
	}
	return len(name) == 2 || name[2] == '.'
}

// Symbolize 把一个指令指针转换成可读符号
// 落在两个符号之间时输出 name+0xoffset 形式，符号名做 C++ 还原
func (t *SymbolTable) Symbolize(addr uint64) string {
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].addr > addr })
	if i == 0 {
		return fmt.Sprintf("[%#x]", addr)
	}
	s := t.syms[i-1]
	name := demangleName(s.name)
	if s.addr == addr {
		return name
	}
	return fmt.Sprintf("%s+%#x", name, addr-s.addr)
}

// demangleName 做 C++ 符号还原，失败时原样返回
func demangleName(name string) string {
	if !strings.HasPrefix(name, "_Z") {
		return name
	}
	out, err := demangle.ToString(name)
	if err != nil {
		return name
	}
	return out
}
