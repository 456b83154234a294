// Package testutil builds jar archives for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Compression methods accepted by JarEntry.Method.
const (
	Store   = zip.Store
	Deflate = zip.Deflate
	Zstd    = zstd.ZipMethodWinZip
)

// DefaultLayersIndex is the layer index written by the Spring Boot build
// plugins for a jar with default layering.
const DefaultLayersIndex = `- "dependencies":
  - "BOOT-INF/lib/"
- "spring-boot-loader":
  - "org/"
- "snapshot-dependencies":
- "application":
  - "BOOT-INF/classes/"
  - "BOOT-INF/classpath.idx"
  - "BOOT-INF/layers.idx"
  - "META-INF/"
`

// JarEntry describes one entry to add to a test archive.
type JarEntry struct {
	Name   string
	Body   []byte
	Method uint16

	// Mode, when non-zero, is recorded as Unix metadata.
	Mode fs.FileMode

	// Symlink, when set, makes the entry a symbolic link to the target.
	Symlink string

	ModTime time.Time

	// Raw writes sizes and checksum into the local header instead of a
	// trailing data descriptor.
	Raw bool
}

// JarBuilder assembles a jar archive in memory.
type JarBuilder struct {
	tb       testing.TB
	prefix   []byte
	absolute bool
	comment  string
	entries  []JarEntry
}

// NewJarBuilder returns an empty builder.
func NewJarBuilder(tb testing.TB) *JarBuilder {
	tb.Helper()
	return &JarBuilder{tb: tb}
}

// Prefix prepends bytes (such as a launch script) before the archive.
// Directory offsets stay relative to the start of the archive unless
// AbsoluteOffsets is called.
func (b *JarBuilder) Prefix(p []byte) *JarBuilder {
	b.prefix = p
	return b
}

// AbsoluteOffsets records directory offsets from the start of the file,
// including any prefix.
func (b *JarBuilder) AbsoluteOffsets() *JarBuilder {
	b.absolute = true
	return b
}

// Comment sets the archive comment.
func (b *JarBuilder) Comment(c string) *JarBuilder {
	b.comment = c
	return b
}

// File adds a deflated file entry.
func (b *JarBuilder) File(name, body string) *JarBuilder {
	return b.Add(JarEntry{Name: name, Body: []byte(body), Method: Deflate})
}

// Stored adds an uncompressed file entry.
func (b *JarBuilder) Stored(name, body string) *JarBuilder {
	return b.Add(JarEntry{Name: name, Body: []byte(body), Method: Store})
}

// Dir adds a directory entry. A trailing slash is added if missing.
func (b *JarBuilder) Dir(name string) *JarBuilder {
	if name == "" || name[len(name)-1] != '/' {
		name += "/"
	}
	return b.Add(JarEntry{Name: name, Method: Store})
}

// Symlink adds a symbolic link entry.
func (b *JarBuilder) Symlink(name, target string) *JarBuilder {
	return b.Add(JarEntry{Name: name, Symlink: target, Method: Store, Mode: fs.ModeSymlink | 0o777})
}

// Add appends an arbitrary entry.
func (b *JarBuilder) Add(e JarEntry) *JarBuilder {
	b.entries = append(b.entries, e)
	return b
}

// Bytes returns the encoded archive.
func (b *JarBuilder) Bytes() []byte {
	b.tb.Helper()

	var buf bytes.Buffer
	buf.Write(b.prefix)

	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	if b.absolute {
		zw.SetOffset(int64(len(b.prefix)))
	}
	if b.comment != "" {
		if err := zw.SetComment(b.comment); err != nil {
			b.tb.Fatalf("set comment: %v", err)
		}
	}

	for _, e := range b.entries {
		body := e.Body
		if e.Symlink != "" {
			body = []byte(e.Symlink)
		}
		hdr := &zip.FileHeader{
			Name:     e.Name,
			Method:   e.Method,
			Modified: e.ModTime,
		}
		if hdr.Modified.IsZero() {
			hdr.Modified = time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)
		}
		if e.Mode != 0 {
			hdr.SetMode(e.Mode)
		}

		if e.Raw {
			b.writeRaw(zw, hdr, body)
			continue
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			b.tb.Fatalf("create %s: %v", e.Name, err)
		}
		if _, err := w.Write(body); err != nil {
			b.tb.Fatalf("write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		b.tb.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}

func (b *JarBuilder) writeRaw(zw *zip.Writer, hdr *zip.FileHeader, body []byte) {
	b.tb.Helper()

	payload := body
	switch hdr.Method {
	case zip.Store:
	case zip.Deflate:
		var cbuf bytes.Buffer
		fw, err := flate.NewWriter(&cbuf, flate.DefaultCompression)
		if err != nil {
			b.tb.Fatalf("deflate writer: %v", err)
		}
		if _, err := fw.Write(body); err != nil {
			b.tb.Fatalf("deflate %s: %v", hdr.Name, err)
		}
		if err := fw.Close(); err != nil {
			b.tb.Fatalf("deflate %s: %v", hdr.Name, err)
		}
		payload = cbuf.Bytes()
	default:
		b.tb.Fatalf("raw entries support store and deflate, got method %d", hdr.Method)
	}

	hdr.CRC32 = crc32.ChecksumIEEE(body)
	hdr.UncompressedSize64 = uint64(len(body))
	hdr.CompressedSize64 = uint64(len(payload))
	w, err := zw.CreateRaw(hdr)
	if err != nil {
		b.tb.Fatalf("create raw %s: %v", hdr.Name, err)
	}
	if _, err := w.Write(payload); err != nil {
		b.tb.Fatalf("write raw %s: %v", hdr.Name, err)
	}
}

// WriteFile encodes the archive into a file under a fresh temporary
// directory and returns its path.
func (b *JarBuilder) WriteFile() string {
	b.tb.Helper()
	path := filepath.Join(b.tb.TempDir(), "app.jar")
	if err := os.WriteFile(path, b.Bytes(), 0o600); err != nil {
		b.tb.Fatalf("write jar: %v", err)
	}
	return path
}

// DataOffset returns the offset of the named entry's payload within data.
func DataOffset(tb testing.TB, data []byte, name string) int64 {
	tb.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		tb.Fatalf("open archive: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		off, err := f.DataOffset()
		if err != nil {
			tb.Fatalf("data offset %s: %v", name, err)
		}
		return off
	}
	tb.Fatalf("entry %s not found", name)
	return 0
}

// LocalHeaderOffset returns the offset of the named entry's local header
// within data.
func LocalHeaderOffset(tb testing.TB, data []byte, name string) int64 {
	tb.Helper()
	sig := []byte{'P', 'K', 0x03, 0x04}
	for off := 0; ; {
		i := bytes.Index(data[off:], sig)
		if i < 0 {
			break
		}
		pos := off + i
		if pos+30 <= len(data) {
			n := int(binary.LittleEndian.Uint16(data[pos+26 : pos+28]))
			if pos+30+n <= len(data) && string(data[pos+30:pos+30+n]) == name {
				return int64(pos)
			}
		}
		off = pos + 1
	}
	tb.Fatalf("local header for %s not found", name)
	return 0
}

// Zip64Jar returns a single-entry stored archive that uses Zip64 records
// for every size and offset field.
func Zip64Jar(name string, body []byte) []byte {
	le := binary.LittleEndian
	crc := crc32.ChecksumIEEE(body)
	size := uint64(len(body))

	var out []byte
	out = le.AppendUint32(out, 0x04034b50)
	out = le.AppendUint16(out, 45)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0x21)
	out = le.AppendUint32(out, crc)
	out = le.AppendUint32(out, 0xFFFFFFFF)
	out = le.AppendUint32(out, 0xFFFFFFFF)
	out = le.AppendUint16(out, uint16(len(name))) //nolint:gosec // test names are short
	out = le.AppendUint16(out, 20)
	out = append(out, name...)
	out = le.AppendUint16(out, 0x0001)
	out = le.AppendUint16(out, 16)
	out = le.AppendUint64(out, size)
	out = le.AppendUint64(out, size)
	out = append(out, body...)

	cdOffset := uint64(len(out))
	out = le.AppendUint32(out, 0x02014b50)
	out = le.AppendUint16(out, 45)
	out = le.AppendUint16(out, 45)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0x21)
	out = le.AppendUint32(out, crc)
	out = le.AppendUint32(out, 0xFFFFFFFF)
	out = le.AppendUint32(out, 0xFFFFFFFF)
	out = le.AppendUint16(out, uint16(len(name))) //nolint:gosec // test names are short
	out = le.AppendUint16(out, 28)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint32(out, 0)
	out = le.AppendUint32(out, 0xFFFFFFFF)
	out = append(out, name...)
	out = le.AppendUint16(out, 0x0001)
	out = le.AppendUint16(out, 24)
	out = le.AppendUint64(out, size)
	out = le.AppendUint64(out, size)
	out = le.AppendUint64(out, 0)
	cdSize := uint64(len(out)) - cdOffset

	end64 := uint64(len(out))
	out = le.AppendUint32(out, 0x06064b50)
	out = le.AppendUint64(out, 44)
	out = le.AppendUint16(out, 45)
	out = le.AppendUint16(out, 45)
	out = le.AppendUint32(out, 0)
	out = le.AppendUint32(out, 0)
	out = le.AppendUint64(out, 1)
	out = le.AppendUint64(out, 1)
	out = le.AppendUint64(out, cdSize)
	out = le.AppendUint64(out, cdOffset)

	out = le.AppendUint32(out, 0x07064b50)
	out = le.AppendUint32(out, 0)
	out = le.AppendUint64(out, end64)
	out = le.AppendUint32(out, 1)

	out = le.AppendUint32(out, 0x06054b50)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, 0xFFFF)
	out = le.AppendUint16(out, 0xFFFF)
	out = le.AppendUint32(out, 0xFFFFFFFF)
	out = le.AppendUint32(out, 0xFFFFFFFF)
	out = le.AppendUint16(out, 0)
	return out
}
