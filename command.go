package booker

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Command is a single (path, value) mutation recorded in the journal.
// IsDelete is set when AddCommand's Go nil argument requested a deletion;
// Value is meaningless in that case. Timestamp is the UnixNano time AddCommand
// recorded the mutation at, per Options.Now — it plays no role in applying
// the command, only in diagnostics and replay-order auditing.
type Command struct {
	Path      string
	Value     Node
	IsDelete  bool
	Timestamp int64
}

const (
	cmdTagDelete byte = 0
	cmdTagValue  byte = 1
)

// MarshalRecord implements journal.Record. The encoded form is the
// timestamp, the path's length-prefixed UTF-8 bytes, a one-byte tag, and —
// unless the command is a deletion — the value msgpack-encoded. msgpack
// natively distinguishes int64 from float64, so the int/float distinction
// survives a journal replay without any extra bookkeeping on booker's side.
func (c *Command) MarshalRecord() ([]byte, error) {
	pathBytes := []byte(c.Path)
	var tsBuf [binary.MaxVarintLen64]byte
	tn := binary.PutVarint(tsBuf[:], c.Timestamp)

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(pathBytes)))

	out := make([]byte, 0, tn+n+len(pathBytes)+1+16)
	out = append(out, tsBuf[:tn]...)
	out = append(out, lenBuf[:n]...)
	out = append(out, pathBytes...)

	if c.IsDelete {
		out = append(out, cmdTagDelete)
		return out, nil
	}
	out = append(out, cmdTagValue)

	plain, err := toPlain(c.Value)
	if err != nil {
		return nil, err
	}
	enc, err := msgpack.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("command: encoding value: %w", err)
	}
	out = append(out, enc...)
	return out, nil
}

// decodeCommand reverses MarshalRecord. Its signature satisfies
// journal.Decoder[*Command].
func decodeCommand(payload []byte) (*Command, error) {
	ts, tn := binary.Varint(payload)
	if tn <= 0 {
		return nil, fmt.Errorf("command: malformed timestamp")
	}
	payload = payload[tn:]

	pathLen, n := binary.Uvarint(payload)
	if n <= 0 {
		return nil, fmt.Errorf("command: malformed path length")
	}
	rest := payload[n:]
	if uint64(len(rest)) < pathLen+1 {
		return nil, fmt.Errorf("command: truncated record")
	}
	path := string(rest[:pathLen])
	rest = rest[pathLen:]
	tag := rest[0]
	rest = rest[1:]

	if tag == cmdTagDelete {
		return &Command{Path: path, IsDelete: true, Timestamp: ts}, nil
	}

	var plain any
	if err := msgpack.Unmarshal(rest, &plain); err != nil {
		return nil, fmt.Errorf("command: decoding value: %w", err)
	}
	return &Command{Path: path, Value: deepCopyValue(plain), Timestamp: ts}, nil
}
