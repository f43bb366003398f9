package booker

import (
	"log/slog"
	"os"

	"github.com/bugsnag/booker/mmap"
)

// Stream is a fixed-capacity, append-only byte sink backed by a memory-
// mapped file, matching the journal package's "unused tail filled with a
// sentinel byte" framing discipline. It is the single writer for a
// Document's on-disk journal file.
type Stream struct {
	f        *os.File
	data     []byte
	capacity int
	fill     byte
	pos      int
	sync     bool
}

// OpenStream creates or opens path at exactly capacity bytes and memory-
// maps it. A newly created file is initialized entirely with fill; an
// existing file is mapped as-is, with position left at 0 — callers that
// are resuming a partially-filled stream must call Advance.
func OpenStream(path string, capacity int, fill byte, sync bool) (*Stream, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, ioErrf("stat stream file", statErr)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ioErrf("open stream file", err)
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		f.Close()
		return nil, ioErrf("truncate stream file", err)
	}

	data, err := mmap.Mmap(f, 0, capacity, mmap.Writable|mmap.SequentialAccess)
	if err != nil {
		f.Close()
		return nil, ioErrf("mmap stream file", err)
	}

	s := &Stream{f: f, data: data, capacity: capacity, fill: fill, sync: sync}
	if !existed {
		s.fillTail(0)
	}
	return s, nil
}

// Advance moves the stream's write position forward past bytes already
// on disk (written by a prior process, or replayed during recovery)
// without touching the buffer's contents.
func (s *Stream) Advance(n int) {
	if n < 0 || n > s.capacity {
		panic("stream: Advance out of range")
	}
	s.pos = n
}

// Position returns the number of bytes written so far.
func (s *Stream) Position() int { return s.pos }

// Capacity returns the stream's fixed size.
func (s *Stream) Capacity() int { return s.capacity }

// BytesRemaining returns how many more bytes can be written before the
// next Write raises BufferOverflowError.
func (s *Stream) BytesRemaining() int { return s.capacity - s.pos }

// Bytes returns the stream's entire backing buffer, including its unused,
// fill-byte tail. Callers must not retain or mutate it past the next
// Write/Clear.
func (s *Stream) Bytes() []byte { return s.data }

// Write appends b if it fits in the remaining capacity. On overflow, the
// stream's position and contents are left unchanged and a
// *BufferOverflowError is returned, satisfying command.serialize's
// atomic-at-the-stream-level contract.
func (s *Stream) Write(b []byte) (int, error) {
	if len(b) > s.BytesRemaining() {
		return 0, &BufferOverflowError{Requested: len(b), Remaining: s.BytesRemaining()}
	}
	copy(s.data[s.pos:], b)
	s.pos += len(b)
	return len(b), nil
}

// Clear resets the stream to empty, overwriting its entire buffer with
// the fill byte.
func (s *Stream) Clear() {
	s.fillTail(0)
	s.pos = 0
}

func (s *Stream) fillTail(from int) {
	for i := from; i < len(s.data); i++ {
		s.data[i] = s.fill
	}
}

// Close flushes (if sync was requested) and unmaps the stream.
func (s *Stream) Close() error {
	if s.sync {
		if err := mmap.Fdatasync(s.f, s.data); err != nil {
			slog.Default().Warn("stream fdatasync failed", "err", err)
		}
	}
	if err := mmap.Munmap(s.data); err != nil {
		s.f.Close()
		return ioErrf("munmap stream file", err)
	}
	return s.f.Close()
}
