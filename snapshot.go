package booker

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// writeSnapshot serializes root to path atomically relative to its own
// file: a single Write followed by Close, before any caller-performed
// rename into the canonical snapshot path. Values outside Node's legal
// variants surface as *UnsupportedValueError.
func writeSnapshot(path string, root *Map) error {
	plain, err := toPlain(root)
	if err != nil {
		return err
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return ioErrf("marshal snapshot", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return ioErrf("create snapshot file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return ioErrf("write snapshot file", err)
	}
	if err := f.Close(); err != nil {
		return ioErrf("close snapshot file", err)
	}
	return nil
}

// readSnapshot decodes path's JSON object into a plain map, preserving
// the int64/float64 distinction of every number literal by inspecting its
// textual form rather than trusting encoding/json's default float64.
func readSnapshot(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErrf("open snapshot file", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &CorruptSnapshotError{Path: path, Err: err}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &CorruptSnapshotError{Path: path, Err: fmt.Errorf("snapshot root is not a JSON object")}
	}
	return normalizeSnapshotValue(m).(map[string]any), nil
}

// normalizeSnapshotValue walks a json.Decoder(UseNumber)'s generic output,
// replacing every json.Number leaf with an int64 or float64 per spec.md's
// "no '.' or exponent marker" rule.
func normalizeSnapshotValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = normalizeSnapshotValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = normalizeSnapshotValue(vv)
		}
		return out
	case json.Number:
		return normalizeNumber(x)
	default:
		return v
	}
}

func normalizeNumber(n json.Number) any {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	f, _ := n.Float64()
	return f
}
