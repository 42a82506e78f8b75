package core

// streaming.go provides the reader chain that feeds CDM ingestion.
//
// Every reader here works in constant memory:
//
//   - CountingReader: tracks raw bytes consumed for progress reporting
//   - DecompressingReader: transparently inflates gzip, zstd, or lz4 frames
//   - BOMSkippingReader: drops a leading UTF-8 byte order mark
//   - UTF8Sanitizer: replaces invalid UTF-8 with '?' without splitting runes
//
// Use WrapForIngest to assemble the chain in the correct order.

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

var (
	magicGzip = []byte{0x1F, 0x8B}
	magicZstd = []byte{0x28, 0xB5, 0x2F, 0xFD}
	magicLZ4  = []byte{0x04, 0x22, 0x4D, 0x18}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

// Compression identifies the framing detected on an input stream.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// CountingReader tracks bytes read so that progress can be computed against
// the raw (possibly compressed) input size.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Percent returns min(99, round(read/total*100)), or 0 when the total is unknown.
// 100 is reserved for completion.
func (r *CountingReader) Percent() int {
	if r.Total <= 0 {
		return 0
	}
	pct := int((r.BytesRead*200 + r.Total) / (r.Total * 2))
	if pct > 99 {
		return 99
	}
	return pct
}

// DecompressingReader sniffs the first bytes of a stream and inflates it if
// it carries a known compression magic. Plain text passes through unchanged.
type DecompressingReader struct {
	src   *bufio.Reader
	inner io.Reader
	kind  Compression
	close func()
}

// NewDecompressingReader peeks at the stream header and selects a decoder.
func NewDecompressingReader(r io.Reader) (*DecompressingReader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("sniff input: %w", err)
	}

	d := &DecompressingReader{src: br, inner: br, kind: CompressionNone, close: func() {}}
	switch {
	case bytes.HasPrefix(head, magicGzip):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		d.inner, d.kind, d.close = zr, CompressionGzip, func() { _ = zr.Close() }
	case bytes.HasPrefix(head, magicZstd):
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		d.inner, d.kind, d.close = zr, CompressionZstd, zr.Close
	case bytes.HasPrefix(head, magicLZ4):
		d.inner, d.kind = lz4.NewReader(br), CompressionLZ4
	}
	return d, nil
}

func (d *DecompressingReader) Read(p []byte) (int, error) {
	n, err := d.inner.Read(p)
	if err != nil && err != io.EOF && d.kind != CompressionNone {
		return n, fmt.Errorf("decompress %s: %w", d.kind, err)
	}
	return n, err
}

// Compression reports which framing was detected.
func (d *DecompressingReader) Compression() Compression { return d.kind }

// Close releases decoder resources. It does not close the underlying reader.
func (d *DecompressingReader) Close() error {
	d.close()
	return nil
}

// BOMSkippingReader drops a UTF-8 BOM (EF BB BF) from the start of a stream.
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReaderSize(r, 16)}
}

func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(len(utf8BOM))
		if bytes.Equal(head, utf8BOM) {
			_, _ = r.br.Discard(len(utf8BOM))
		} else if err != nil && err != io.EOF && len(head) == 0 {
			return 0, err
		}
	}
	return r.br.Read(p)
}

// UTF8Sanitizer replaces invalid UTF-8 bytes with '?' on the fly. A multi-byte
// rune split across two reads is held back and emitted whole on the next read.
type UTF8Sanitizer struct {
	reader  io.Reader
	pending []byte
	spill   []byte // sanitized output awaiting a caller with a short buffer
	err     error
}

// NewUTF8Sanitizer creates a new streaming UTF-8 sanitizer.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(s.spill) == 0 && len(p) < utf8.UTFMax {
		// A buffer this short cannot hold a whole rune; fill a full-size one.
		var buf [utf8.UTFMax]byte
		n, err := s.Read(buf[:])
		if n == 0 {
			return 0, err
		}
		s.spill = append(s.spill, buf[:n]...)
	}
	if len(s.spill) > 0 {
		n := copy(p, s.spill)
		s.spill = s.spill[:copy(s.spill, s.spill[n:])]
		return n, nil
	}
	if s.err != nil && len(s.pending) == 0 {
		return 0, s.err
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:copy(s.pending, s.pending[offset:])]

	n := offset
	if s.err == nil && len(s.pending) == 0 {
		var m int
		m, s.err = s.reader.Read(p[offset:])
		n += m
	}
	if n == 0 {
		return 0, s.err
	}

	atEOF := s.err != nil && len(s.pending) == 0
	if !atEOF {
		if tail := incompleteTail(p[:n]); tail > 0 {
			s.pending = append(s.pending, p[n-tail:n]...)
			n -= tail
		}
	}
	n = sanitizeInPlace(p[:n])
	if n == 0 && s.err == nil {
		// Only a partial rune arrived; ask again rather than return (0, nil).
		return s.Read(p)
	}
	if len(s.pending) > 0 {
		return n, nil
	}
	return n, s.err
}

// isAllASCII is the fast path; most CDM exports are plain ASCII.
func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitizeInPlace rewrites invalid bytes to '?' and returns the new length.
func sanitizeInPlace(data []byte) int {
	if isAllASCII(data) || utf8.Valid(data) {
		return len(data)
	}
	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// incompleteTail returns how many trailing bytes form the start of a
// multi-byte sequence that is not yet complete.
func incompleteTail(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue // continuation byte
		}
		if b >= 0xC0 && i < runeLen(b) {
			return i
		}
		return 0
	}
	return 0
}

func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// IngestStream is the assembled reader chain for one ingestion.
type IngestStream struct {
	io.Reader
	counter *CountingReader
	decomp  *DecompressingReader
	hasher  *blake3.Hasher
}

// WrapForIngest assembles the ingestion reader chain.
//
// The order matters:
//  1. The digest and byte counter see the raw bytes, so progress tracks the
//     uploaded size even for compressed input
//  2. Decompression runs before any text processing
//  3. The BOM is stripped before sanitization
func WrapForIngest(r io.Reader, totalSize int64) (*IngestStream, error) {
	hasher := blake3.New()
	counter := NewCountingReader(io.TeeReader(r, hasher), totalSize)
	decomp, err := NewDecompressingReader(counter)
	if err != nil {
		return nil, err
	}
	return &IngestStream{
		Reader:  NewUTF8Sanitizer(NewBOMSkippingReader(decomp)),
		counter: counter,
		decomp:  decomp,
		hasher:  hasher,
	}, nil
}

// Percent returns the raw-byte progress of the stream.
func (s *IngestStream) Percent() int { return s.counter.Percent() }

// BytesRead returns the raw bytes consumed so far.
func (s *IngestStream) BytesRead() int64 { return s.counter.BytesRead }

// Compression reports the detected input framing.
func (s *IngestStream) Compression() Compression { return s.decomp.Compression() }

// Digest returns the hex blake3 digest of the raw bytes consumed so far.
func (s *IngestStream) Digest() string {
	return hex.EncodeToString(s.hasher.Sum(nil))
}

// Close releases decoder resources.
func (s *IngestStream) Close() error { return s.decomp.Close() }
