package booker

import (
	"bytes"
	"log/slog"
	"os"

	"github.com/bugsnag/booker/journal"
)

// recoverDocument implements spec.md §4.G's recovery policy:
//  1. If P.snapshot.new deserializes cleanly, it represents a completed
//     snapshot write that crashed before rename; return it as-is, without
//     touching the journal (those commands are already baked in).
//  2. Otherwise deserialize P.snapshot; failure here is fatal.
//  3. Try to deserialize P.journal. A corrupt, mismatched, or truncated
//     journal, or one whose commands do not all apply to the snapshot,
//     falls back to the snapshot unmodified; otherwise the journal's
//     records are returned for the caller to apply.
func recoverDocument(basePath, typeTag string, version uint32, log *slog.Logger) (*Map, []*Command, error) {
	if plain, err := readSnapshot(basePath + ".snapshot.new"); err == nil {
		log.Info("recovered from .snapshot.new; a prior snapshot swap crashed before rename")
		return deepCopyMap(plain), nil, nil
	}

	plain, err := readSnapshot(basePath + ".snapshot")
	if err != nil {
		return nil, nil, fatalf(err, "no valid snapshot found at %s", basePath)
	}
	root := deepCopyMap(plain)

	data, err := os.ReadFile(basePath + ".journal")
	if err != nil {
		log.Warn("journal unreadable, recovering from snapshot only", "err", err)
		return root, nil, nil
	}

	j, _, err := journal.Deserialize[*Command](bytes.NewReader(data), typeTag, version, decodeCommand)
	if err != nil {
		head := data
		if len(head) > 32 {
			head = head[:32]
		}
		log.Warn("journal failed to deserialize, recovering from snapshot only",
			"err", err, hexAttr("header", head))
		return root, nil, nil
	}

	// Trial replay onto a throwaway copy of the snapshot, with commands
	// decoded afresh so the trial cannot alter the ones returned.
	if trial, _, err := journal.Deserialize[*Command](bytes.NewReader(data), typeTag, version, decodeCommand); err == nil {
		if _, err := replayCommands(deepCopyMap(plain), trial.Records()); err != nil {
			log.Warn("journal failed to apply, recovering from snapshot only", "err", err)
			return root, nil, nil
		}
	}
	return root, j.Records(), nil
}
