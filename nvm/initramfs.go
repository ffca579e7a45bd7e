package nvm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gravwell/gravwell/v3/ingest/log"
	"github.com/klauspost/compress/gzip"
)

// Initramfs wire format: repeated records of a 4-byte big-endian length
// followed by that many image bytes, with the offset aligned up to the
// next 4-byte boundary between records. A zero length or a length past
// the end of the stream terminates parsing. The whole stream may be
// gzip-compressed.

const initramfsPrefix = "/bin/"

var gzipMagic = []byte{0x1F, 0x8B}

// LoadInitramfs unpacks an initramfs stream into the filesystem, one
// file per record named /bin/initrd<n>.nvm, and returns the created
// paths. Records that do not carry the image magic are skipped.
func LoadInitramfs(fs *FileSystem, r io.Reader, lg *log.Logger) ([]string, error) {
	if lg == nil {
		lg = log.NewDiscardLogger()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading initramfs: %w", err)
	}
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip initramfs: %w", err)
		}
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("decompressing initramfs: %w", err)
		}
		if err = zr.Close(); err != nil {
			return nil, fmt.Errorf("decompressing initramfs: %w", err)
		}
	}

	var paths []string
	offset, record := 0, 0
	for offset+4 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if size == 0 || size > len(data)-offset {
			break
		}

		image := data[offset : offset+size]
		offset += size
		record++
		// Re-align for the next length field.
		if rem := offset % 4; rem != 0 {
			offset += 4 - rem
		}

		if size < headerSize || string(image[:headerSize]) != ImageMagic {
			lg.Warnf("initramfs record %d: %v, skipping", record, ErrInvalidMagic)
			continue
		}

		name := fmt.Sprintf("%sinitrd%d.nvm", initramfsPrefix, len(paths))
		if err := fs.Create(name, image); err != nil {
			return paths, fmt.Errorf("storing %s: %w", name, err)
		}
		lg.Infof("loaded initramfs record %s (%d bytes)", name, size)
		paths = append(paths, name)
	}
	return paths, nil
}
