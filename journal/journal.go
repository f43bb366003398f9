// Package journal implements a generic, crash-resistant append-only record
// log for a single fixed-capacity segment.
//
// Unlike a rotating multi-segment WAL, a journal here always lives inside
// exactly one pre-sized byte sink (see booker's Stream): there is no segment
// rotation, no file naming scheme, and no cross-file continuation. What is
// kept from that lineage is the framing discipline: a fixed-size header
// identifying the journal's type and version, followed by checksummed,
// self-delimiting records, followed by an unused tail filled with a
// sentinel byte that a reader recognizes as "nothing more to read" without
// needing a record count.
//
// # Format
//
//	file    = header record*
//	header  = magic:64 version:32 tagLen:8 reserved:24 tag:192
//	record  = marker:8 stuffed( uvarint(len(payload)) payload:bytes checksum:64 )
//
// Every byte after a record's marker is byte-stuffed (escape byte 0xFE,
// XOR mask 0x20) so that the sentinel byte used to fill unused journal
// space can never appear, literally, inside a valid record.
package journal

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

const (
	magic        uint64 = 0x4a524e4c424b5231 // "JRNLBKR1"
	headerSize          = 8 + 4 + 1 + 3 + maxTagLen
	maxTagLen           = 24

	// Sentinel is the fill byte used for the unused tail of a journal's
	// backing store. It is an invalid UTF-8 lead byte and never appears
	// unescaped inside a record.
	Sentinel byte = 0x99

	marker byte = 0xaa
	escape byte = 0xfe
	xorMask byte = 0x20
)

// ErrIncompatible is returned by Deserialize when the on-disk header's type
// tag or version does not match what the caller expects.
var ErrIncompatible = fmt.Errorf("journal: incompatible header")

// ErrCorrupt is returned by Deserialize when a record's checksum fails, a
// record claims a length to which reading never gets to, or a byte appears
// where only a record marker or the sentinel may legally appear.
var ErrCorrupt = fmt.Errorf("journal: corrupted record")

// Record is anything that can be framed into a journal. MarshalRecord must
// return the same bytes Decode for the journal's Decoder expects back.
type Record interface {
	MarshalRecord() ([]byte, error)
}

// Decoder turns a single record's raw payload back into a Record.
type Decoder[R Record] func([]byte) (R, error)

// Journal is an ordered, typed, in-memory list of records plus the header
// that will be written ahead of them.
type Journal[R Record] struct {
	typeTag string
	version uint32
	records []R
}

// New creates an empty journal with the given type tag and version. The tag
// must fit in maxTagLen bytes of ASCII.
func New[R Record](typeTag string, version uint32) *Journal[R] {
	if len(typeTag) > maxTagLen {
		panic(fmt.Sprintf("journal: type tag %q exceeds %d bytes", typeTag, maxTagLen))
	}
	for i := 0; i < len(typeTag); i++ {
		if typeTag[i] == Sentinel {
			panic(fmt.Sprintf("journal: type tag %q contains the sentinel byte", typeTag))
		}
	}
	return &Journal[R]{typeTag: typeTag, version: version}
}

// TypeTag returns the journal's configured type tag.
func (j *Journal[R]) TypeTag() string { return j.typeTag }

// Version returns the journal's configured version.
func (j *Journal[R]) Version() uint32 { return j.version }

// Add appends a record to the in-memory list.
func (j *Journal[R]) Add(r R) {
	j.records = append(j.records, r)
}

// Clear drops all in-memory records.
func (j *Journal[R]) Clear() {
	j.records = j.records[:0]
}

// Len returns the number of in-memory records.
func (j *Journal[R]) Len() int { return len(j.records) }

// Records returns the in-memory records, in order. The caller must not
// mutate the returned slice.
func (j *Journal[R]) Records() []R { return j.records }

// Serialize writes the header followed by every in-memory record's framing.
func (j *Journal[R]) Serialize(w io.Writer) error {
	var hdr [headerSize]byte
	putHeader(hdr[:], j.typeTag, j.version)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, r := range j.records {
		payload, err := r.MarshalRecord()
		if err != nil {
			return err
		}
		if err := WriteRecord(w, payload); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads a header and then records until the Sentinel byte or
// end of stream, decoding each with decode. A header mismatch against
// wantTag/wantVersion is reported as ErrIncompatible. A malformed or
// truncated record is reported as ErrCorrupt; everything decoded
// successfully before the corrupt record is not returned — per booker's
// recovery policy, any journal corruption discards the whole journal in
// favor of the last snapshot.
//
// The returned int is the number of bytes consumed by the header plus the
// records actually decoded, excluding the sentinel byte (if any) that
// ended the scan. Callers that keep writing to the same backing buffer use
// it to resume appending right after the last valid record.
func Deserialize[R Record](r io.Reader, wantTag string, wantVersion uint32, decode Decoder[R]) (*Journal[R], int, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, fmt.Errorf("journal: reading header: %w", err)
	}
	tag, version, err := parseHeader(hdr[:])
	if err != nil {
		return nil, 0, err
	}
	if tag != wantTag || version != wantVersion {
		return nil, 0, ErrIncompatible
	}

	j := New[R](wantTag, wantVersion)
	br := byteReader{r: r}
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		if b == Sentinel {
			br.n--
			break
		}
		if b != marker {
			return nil, 0, ErrCorrupt
		}

		payload, checksum, err := readFrameBody(&br)
		if err != nil {
			return nil, 0, err
		}
		if xxhash.Sum64(payload) != checksum {
			return nil, 0, ErrCorrupt
		}
		rec, err := decode(payload)
		if err != nil {
			return nil, 0, ErrCorrupt
		}
		j.Add(rec)
	}
	return j, headerSize + br.used(), nil
}

func putHeader(buf []byte, tag string, version uint32) {
	binary.LittleEndian.PutUint64(buf[0:8], magic)
	binary.LittleEndian.PutUint32(buf[8:12], version)
	buf[12] = byte(len(tag))
	buf[13], buf[14], buf[15] = 0, 0, 0
	copy(buf[16:16+maxTagLen], tag)
}

func parseHeader(buf []byte) (tag string, version uint32, err error) {
	if binary.LittleEndian.Uint64(buf[0:8]) != magic {
		return "", 0, ErrIncompatible
	}
	version = binary.LittleEndian.Uint32(buf[8:12])
	tagLen := int(buf[12])
	if tagLen > maxTagLen {
		return "", 0, ErrIncompatible
	}
	tag = string(buf[16 : 16+tagLen])
	return tag, version, nil
}

// WriteRecord writes one byte-stuffed, checksummed record frame to w in a
// single Write call, so a writer like booker.Stream that is atomic on
// overflow leaves its position untouched when the frame doesn't fit.
func WriteRecord(w io.Writer, payload []byte) error {
	checksum := xxhash.Sum64(payload)

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))

	var checksumBuf [8]byte
	binary.LittleEndian.PutUint64(checksumBuf[:], checksum)

	frame := make([]byte, 0, 1+2*(n+len(payload)+8))
	frame = append(frame, marker)
	frame = appendStuffed(frame, lenBuf[:n])
	frame = appendStuffed(frame, payload)
	frame = appendStuffed(frame, checksumBuf[:])

	_, err := w.Write(frame)
	return err
}

// readFrameBody reads the varint length, payload, and checksum of a record
// whose marker byte has already been consumed.
func readFrameBody(br *byteReader) (payload []byte, checksum uint64, err error) {
	length, err := binary.ReadUvarint(&unstuffingByteReader{br: br})
	if err != nil {
		return nil, 0, ErrCorrupt
	}
	payload = make([]byte, length)
	for i := range payload {
		b, err := readUnstuffedByte(br)
		if err != nil {
			return nil, 0, ErrCorrupt
		}
		payload[i] = b
	}
	var checksumBuf [8]byte
	for i := range checksumBuf {
		b, err := readUnstuffedByte(br)
		if err != nil {
			return nil, 0, ErrCorrupt
		}
		checksumBuf[i] = b
	}
	return payload, binary.LittleEndian.Uint64(checksumBuf[:]), nil
}

// appendStuffed appends data to dst with the sentinel and escape bytes
// byte-stuffed so that neither ever appears literally in the output.
func appendStuffed(dst, data []byte) []byte {
	for _, b := range data {
		if b == Sentinel || b == escape {
			dst = append(dst, escape, b^xorMask)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

func readUnstuffedByte(br *byteReader) (byte, error) {
	b, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	if b == escape {
		b2, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		return b2 ^ xorMask, nil
	}
	return b, nil
}

// byteReader adapts an io.Reader to io.ByteReader one byte at a time,
// counting bytes consumed so Deserialize can report how far it got.
type byteReader struct {
	r io.Reader
	n int
}

func (b *byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	b.n++
	return buf[0], nil
}

// used returns the number of bytes successfully read so far.
func (b *byteReader) used() int { return b.n }

// unstuffingByteReader satisfies io.ByteReader by returning unstuffed bytes,
// letting binary.ReadUvarint decode a byte-stuffed varint directly.
type unstuffingByteReader struct {
	br *byteReader
}

func (u *unstuffingByteReader) ReadByte() (byte, error) {
	return readUnstuffedByte(u.br)
}
