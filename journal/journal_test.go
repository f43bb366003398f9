package journal

import (
	"bytes"
	"errors"
	"testing"
)

type stringRecord string

func (s stringRecord) MarshalRecord() ([]byte, error) { return []byte(s), nil }

func decodeString(b []byte) (stringRecord, error) { return stringRecord(b), nil }

func TestJournal_SerializeDeserialize_roundTrip(t *testing.T) {
	j := New[stringRecord]("test", 1)
	j.Add("alpha")
	j.Add("beta")
	j.Add("gamma")

	var buf bytes.Buffer
	if err := j.Serialize(&buf); err != nil {
		t.Fatal(err)
	}

	got, n, err := Deserialize[stringRecord](bytes.NewReader(buf.Bytes()), "test", 1, decodeString)
	if err != nil {
		t.Fatal(err)
	}
	if n != buf.Len() {
		t.Fatalf("consumed %d bytes, want %d (no trailing sentinel in this buffer)", n, buf.Len())
	}
	want := []stringRecord{"alpha", "beta", "gamma"}
	if len(got.Records()) != len(want) {
		t.Fatalf("got %v, want %v", got.Records(), want)
	}
	for i, r := range want {
		if got.Records()[i] != r {
			t.Fatalf("record %d = %q, want %q", i, got.Records()[i], r)
		}
	}
}

func TestJournal_Deserialize_stopsAtSentinelAndExcludesIt(t *testing.T) {
	j := New[stringRecord]("test", 1)
	j.Add("only")

	var buf bytes.Buffer
	if err := j.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	written := buf.Len()
	buf.Write(bytes.Repeat([]byte{Sentinel}, 32))

	got, n, err := Deserialize[stringRecord](bytes.NewReader(buf.Bytes()), "test", 1, decodeString)
	if err != nil {
		t.Fatal(err)
	}
	if n != written {
		t.Fatalf("consumed %d bytes, want %d (the sentinel byte must not be counted)", n, written)
	}
	if len(got.Records()) != 1 || got.Records()[0] != "only" {
		t.Fatalf("got %v, want [only]", got.Records())
	}
}

func TestJournal_Deserialize_incompatibleTag(t *testing.T) {
	j := New[stringRecord]("a", 1)
	var buf bytes.Buffer
	if err := j.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	_, _, err := Deserialize[stringRecord](bytes.NewReader(buf.Bytes()), "b", 1, decodeString)
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("got %v, want ErrIncompatible", err)
	}
}

func TestJournal_Deserialize_incompatibleVersion(t *testing.T) {
	j := New[stringRecord]("a", 1)
	var buf bytes.Buffer
	if err := j.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	_, _, err := Deserialize[stringRecord](bytes.NewReader(buf.Bytes()), "a", 2, decodeString)
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("got %v, want ErrIncompatible", err)
	}
}

func TestJournal_Deserialize_corruptChecksum(t *testing.T) {
	j := New[stringRecord]("a", 1)
	j.Add("hello")
	var buf bytes.Buffer
	if err := j.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	// Invert a byte inside the record's trailing checksum.
	data[len(data)-3] ^= 0xff

	_, _, err := Deserialize[stringRecord](bytes.NewReader(data), "a", 1, decodeString)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
}

func TestJournal_Deserialize_truncatedHeader(t *testing.T) {
	_, _, err := Deserialize[stringRecord](bytes.NewReader([]byte{1, 2, 3}), "a", 1, decodeString)
	if err == nil {
		t.Fatal("expected an error reading a truncated header")
	}
}

func TestJournal_StuffedRecord_neverContainsLiteralSentinel(t *testing.T) {
	j := New[stringRecord]("a", 1)
	// A record whose raw bytes are entirely the sentinel value: every byte
	// must come back out byte-stuffed so the sentinel scan in Deserialize
	// (and in booker.Stream's own tail) never mistakes it for empty space.
	j.Add(stringRecord(bytes.Repeat([]byte{Sentinel}, 4)))

	var buf bytes.Buffer
	if err := j.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	body := buf.Bytes()[headerSize:]
	for i, b := range body {
		if b == Sentinel {
			t.Fatalf("byte %d of the serialized record is a literal sentinel: %v", i, body)
		}
	}

	got, _, err := Deserialize[stringRecord](bytes.NewReader(buf.Bytes()), "a", 1, decodeString)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Records()[0]) != string(bytes.Repeat([]byte{Sentinel}, 4)) {
		t.Fatalf("got %v, want four sentinel bytes recovered intact", got.Records()[0])
	}
}

func TestJournal_ClearDropsRecordsButKeepsHeader(t *testing.T) {
	j := New[stringRecord]("a", 1)
	j.Add("one")
	j.Add("two")
	j.Clear()
	if j.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Clear", j.Len())
	}
	if j.TypeTag() != "a" || j.Version() != 1 {
		t.Fatal("Clear must not reset the journal's header fields")
	}
}

func TestNew_panicsOnOversizedTag(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a type tag over maxTagLen bytes")
		}
	}()
	New[stringRecord](string(bytes.Repeat([]byte("a"), 32)), 1)
}

func TestWriteRecord_singleWriteCall(t *testing.T) {
	cw := &countingWriter{}
	if err := WriteRecord(cw, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	if cw.calls != 1 {
		t.Fatalf("WriteRecord made %d Write calls, want exactly 1", cw.calls)
	}
}

type countingWriter struct {
	calls int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.calls++
	return len(p), nil
}
