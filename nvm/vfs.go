package nvm

import (
	"errors"
	"fmt"
	"sort"
)

// In-memory VFS. Files are flat byte buffers addressed by full path;
// descriptors are indexes into a fixed handle table, each with its own
// offset. Nothing here persists: the store lives and dies with the
// machine.

const (
	MaxFiles    = 256
	MaxHandles  = 128
	MaxFileName = 255
	MaxFileSize = 65536
)

// Open flags.
const (
	FlagRead   = 0x01
	FlagWrite  = 0x02
	FlagCreate = 0x04
	FlagAppend = 0x08
)

// Seek whence values.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

var (
	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
	ErrNameTooLong  = errors.New("filename too long")
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	ErrFSFull       = errors.New("no space left")
)

type vfsFile struct {
	name string
	data []byte
}

type vfsHandle struct {
	f     *vfsFile
	off   int
	flags int
}

// FileSystem is the in-memory VFS the syscall gateway operates on.
type FileSystem struct {
	files   map[string]*vfsFile
	handles [MaxHandles]*vfsHandle
}

func NewFileSystem() *FileSystem {
	return &FileSystem{files: make(map[string]*vfsFile)}
}

// Create stores a new file with the given contents.
func (fs *FileSystem) Create(name string, data []byte) error {
	if len(name) == 0 || len(name) > MaxFileName {
		return ErrNameTooLong
	}
	if len(data) > MaxFileSize {
		return ErrFileTooLarge
	}
	if _, ok := fs.files[name]; ok {
		return ErrFileExists
	}
	if len(fs.files) >= MaxFiles {
		return ErrFSFull
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	fs.files[name] = &vfsFile{name: name, data: buf}
	return nil
}

// Open returns a descriptor for the named file, or -1. A missing file
// is created first when FlagCreate is set. The offset starts at zero,
// or at the end with FlagAppend.
func (fs *FileSystem) Open(name string, flags int) int {
	f, ok := fs.files[name]
	if !ok {
		if flags&FlagCreate == 0 {
			return -1
		}
		if fs.Create(name, nil) != nil {
			return -1
		}
		f = fs.files[name]
	}
	for fd := range fs.handles {
		if fs.handles[fd] == nil {
			h := &vfsHandle{f: f, flags: flags}
			if flags&FlagAppend != 0 {
				h.off = len(f.data)
			}
			fs.handles[fd] = h
			return fd
		}
	}
	return -1
}

// Close releases a descriptor. Unknown descriptors are ignored.
func (fs *FileSystem) Close(fd int) {
	if fd >= 0 && fd < MaxHandles {
		fs.handles[fd] = nil
	}
}

func (fs *FileSystem) handle(fd int) *vfsHandle {
	if fd < 0 || fd >= MaxHandles {
		return nil
	}
	return fs.handles[fd]
}

// ReadFd copies up to len(buf) bytes from the handle's offset. Returns
// the byte count, 0 at end of file or -1 on a bad descriptor.
func (fs *FileSystem) ReadFd(fd int, buf []byte) int {
	h := fs.handle(fd)
	if h == nil || h.flags&FlagRead == 0 {
		return -1
	}
	if h.off >= len(h.f.data) {
		return 0
	}
	n := copy(buf, h.f.data[h.off:])
	h.off += n
	return n
}

// WriteFd writes at the handle's offset, extending the file as needed
// up to the size cap. Returns the byte count or -1.
func (fs *FileSystem) WriteFd(fd int, buf []byte) int {
	h := fs.handle(fd)
	if h == nil || h.flags&FlagWrite == 0 {
		return -1
	}
	if h.off+len(buf) > MaxFileSize {
		return -1
	}
	if needed := h.off + len(buf); needed > len(h.f.data) {
		h.f.data = append(h.f.data, make([]byte, needed-len(h.f.data))...)
	}
	n := copy(h.f.data[h.off:], buf)
	h.off += n
	return n
}

// Seek repositions a handle. Offsets past the end are legal; reads
// there report end of file. Returns the new offset or -1.
func (fs *FileSystem) Seek(fd int, offset int, whence int) int {
	h := fs.handle(fd)
	if h == nil {
		return -1
	}
	var base int
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = h.off
	case SeekEnd:
		base = len(h.f.data)
	default:
		return -1
	}
	if base+offset < 0 {
		return -1
	}
	h.off = base + offset
	return h.off
}

// Delete unlinks a file. Handles already open on it keep their view of
// the data, like the slot keeps its image.
func (fs *FileSystem) Delete(name string) error {
	if _, ok := fs.files[name]; !ok {
		return ErrFileNotFound
	}
	delete(fs.files, name)
	return nil
}

// ReadFile returns a copy of a file's contents without consuming a
// descriptor.
func (fs *FileSystem) ReadFile(name string) ([]byte, error) {
	f, ok := fs.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

// List returns all file paths in sorted order.
func (fs *FileSystem) List() []string {
	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns a file's length in bytes, or -1.
func (fs *FileSystem) Size(name string) int {
	f, ok := fs.files[name]
	if !ok {
		return -1
	}
	return len(f.data)
}
