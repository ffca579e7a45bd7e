package nvm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// buildInitramfs packs images into the length-prefixed wire format with
// 4-byte alignment between records.
func buildInitramfs(images ...[]byte) []byte {
	var buf bytes.Buffer
	for _, img := range images {
		var lenField [4]byte
		binary.BigEndian.PutUint32(lenField[:], uint32(len(img)))
		buf.Write(lenField[:])
		buf.Write(img)
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func TestInitramfsLoad(t *testing.T) {
	a := newImage().op(Halt).bytes()             // 5 bytes, forces padding
	b := newImage().push(1).sys(SysExit).bytes() // 11 bytes
	stream := buildInitramfs(a, b)

	fs := NewFileSystem()
	paths, err := LoadInitramfs(fs, bytes.NewReader(stream), nil)
	assert(t, err == nil, "load: %v", err)
	assert(t, len(paths) == 2, "expected 2 images, got %v", paths)
	assert(t, paths[0] == "/bin/initrd0.nvm" && paths[1] == "/bin/initrd1.nvm", "paths %v", paths)

	got, err := fs.ReadFile(paths[0])
	assert(t, err == nil && bytes.Equal(got, a), "image 0 corrupted")
	got, err = fs.ReadFile(paths[1])
	assert(t, err == nil && bytes.Equal(got, b), "image 1 corrupted")
}

func TestInitramfsGzip(t *testing.T) {
	img := newImage().op(Halt).bytes()
	raw := buildInitramfs(img)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(raw)
	zw.Close()

	fs := NewFileSystem()
	paths, err := LoadInitramfs(fs, &buf, nil)
	assert(t, err == nil, "load: %v", err)
	assert(t, len(paths) == 1, "expected 1 image, got %v", paths)

	got, err := fs.ReadFile(paths[0])
	assert(t, err == nil && bytes.Equal(got, img), "decompressed image corrupted")
}

func TestInitramfsZeroLengthTerminates(t *testing.T) {
	img := newImage().op(Halt).bytes()
	stream := buildInitramfs(img)
	stream = append(stream, 0, 0, 0, 0) // zero record
	stream = append(stream, buildInitramfs(img)...)

	fs := NewFileSystem()
	paths, err := LoadInitramfs(fs, bytes.NewReader(stream), nil)
	assert(t, err == nil, "load: %v", err)
	assert(t, len(paths) == 1, "parsing should stop at the zero record, got %v", paths)
}

func TestInitramfsOversizedLengthTerminates(t *testing.T) {
	var stream []byte
	stream = binary.BigEndian.AppendUint32(stream, 1<<20)
	stream = append(stream, 'N', 'V')

	fs := NewFileSystem()
	paths, err := LoadInitramfs(fs, bytes.NewReader(stream), nil)
	assert(t, err == nil, "load: %v", err)
	assert(t, len(paths) == 0, "truncated record should terminate parsing")
}

func TestInitramfsSkipsBadMagic(t *testing.T) {
	good := newImage().op(Halt).bytes()
	stream := buildInitramfs([]byte("JUNKJUNK"), good)

	fs := NewFileSystem()
	paths, err := LoadInitramfs(fs, bytes.NewReader(stream), nil)
	assert(t, err == nil, "load: %v", err)
	assert(t, len(paths) == 1, "bad record should be skipped, got %v", paths)

	got, err := fs.ReadFile(paths[0])
	assert(t, err == nil && bytes.Equal(got, good), "good record lost")
}
