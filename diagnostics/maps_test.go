package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `555555554000-555555556000 r-xp 00000000 08:01 131 /usr/bin/cat
555555556000-555555557000 r--p 00002000 08:01 131 /usr/bin/cat
7ffff7dd3000-7ffff7df9000 r-xp 00000000 08:01 7 /lib/x86_64-linux-gnu/ld-2.31.so
7ffff7ff3000-7ffff7ff5000 rw-p 00000000 00:00 0
7ffff7ff5000-7ffff7ff7000 r-xp 00001000 08:01 99 /tmp/evil.so (deleted)
7ffffffde000-7ffffffff000 rw-p 00000000 00:00 0 [stack]
`

func TestParseMaps(t *testing.T) {
	maps := ParseMaps(sampleMaps)
	require.Len(t, maps, 6)

	m := maps[0]
	assert.Equal(t, uint64(0x555555554000), m.Start)
	assert.Equal(t, uint64(0x555555556000), m.End)
	assert.Equal(t, "r-xp", m.Perms)
	assert.Equal(t, uint64(0), m.Offset)
	assert.Equal(t, "/usr/bin/cat", m.Path)
	assert.True(t, m.Executable())
	assert.True(t, m.FileBacked())
	assert.False(t, m.Deleted)

	// 第二段不可执行
	assert.False(t, maps[1].Executable())

	// 共享库映射，文件偏移为零
	assert.Equal(t, uint64(0), maps[2].Offset)

	// 匿名映射
	anon := maps[3]
	assert.False(t, anon.FileBacked())

	// 被删除的映射要标记出来
	del := maps[4]
	assert.Equal(t, "/tmp/evil.so", del.Path)
	assert.True(t, del.Deleted)

	// [stack] 一类伪路径不算文件映射
	stack := maps[5]
	assert.Equal(t, "[stack]", stack.Path)
	assert.False(t, stack.FileBacked())
}

func TestParseMapsSkipsGarbage(t *testing.T) {
	maps := ParseMaps("not a maps line\n555555554000-555555556000 r-xp 00000000 08:01 131 /bin/true\n")
	require.Len(t, maps, 1)
	assert.Equal(t, "/bin/true", maps[0].Path)
}
