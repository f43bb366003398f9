package booker

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/bugsnag/booker/journal"
)

// Options configures Open. The zero value is valid: a nil Logger defaults
// to slog.Default(), a nil Now defaults to time.Now, and Sync defaults to
// false (spec.md §4.D does not mandate fsync).
type Options struct {
	Logger *slog.Logger
	Sync   bool
	Now    func() time.Time
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Document is a crash-resilient journaled document: a live, mutable,
// JSON-shaped document kept in memory, with every mutation written to a
// mapped journal file before being applied, and periodically flattened
// into a JSON snapshot. See doc.go for the on-disk layout and mutation
// protocol this implements.
type Document struct {
	mu sync.Mutex // the single mutation lock; reads never take it.

	basePath  string
	typeTag   string
	version   uint32
	capacity  int
	highWater int

	log *slog.Logger
	opt Options

	root    *Map
	journal *journal.Journal[*Command]
	stream  *Stream
	closed  bool
}

// Open constructs a Document rooted at basePath. If a snapshot already
// exists there (see DocumentExists), it and the journal beside it are
// recovered per the policy in recovery.go, and a leftover .snapshot.new is
// swapped in by an immediate snapshot; otherwise initial (deep-copied into
// concurrent containers) becomes the starting document and is snapshotted
// immediately.
func Open(basePath, typeTag string, version uint32, capacity, highWater int, initial map[string]any, opt Options) (*Document, error) {
	log := opt.logger().With("component", "booker.Document", "base_path", basePath)

	d := &Document{
		basePath:  basePath,
		typeTag:   typeTag,
		version:   version,
		capacity:  capacity,
		highWater: highWater,
		log:       log,
		opt:       opt,
	}

	exists := DocumentExists(basePath)
	if exists {
		root, cmds, err := recoverDocument(basePath, typeTag, version, log)
		if err != nil {
			return nil, err
		}
		root, err = replayCommands(root, cmds)
		if err != nil {
			return nil, err
		}
		d.root = root
		d.journal = journal.New[*Command](typeTag, version)
		for _, c := range cmds {
			d.journal.Add(c)
		}
	} else {
		d.root = deepCopyMap(initial)
		d.journal = journal.New[*Command](typeTag, version)
	}

	stream, err := OpenStream(d.journalPath(), capacity, journal.Sentinel, opt.Sync)
	if err != nil {
		return nil, err
	}
	d.stream = stream

	// Always start from a freshly sentinel-filled buffer before writing
	// the (possibly recovered) journal back out: whatever was on disk
	// before — valid, stale, or corrupt — must not leak past whatever we
	// write here, or a later recovery could mistake old frame bytes past
	// our write position for live records.
	d.stream.Clear()
	if err := d.journal.Serialize(d.stream); err != nil {
		d.stream.Close()
		return nil, ioErrf("writing recovered journal to stream", err)
	}

	// Recovery prefers a leftover .snapshot.new over the journal, so it is
	// swapped in now; otherwise commands journaled after this Open would be
	// ignored by the next recovery.
	_, newErr := os.Stat(d.newSnapshotPath())
	if !exists || newErr == nil {
		if err := d.snapshotLocked(); err != nil {
			d.stream.Close()
			return nil, err
		}
	}

	runtime.SetFinalizer(d, func(d *Document) {
		if !d.isClosed() {
			log.Warn("document finalized without Close; releasing mapped stream")
			d.Close()
		}
	})

	return d, nil
}

func (d *Document) journalPath() string  { return d.basePath + ".journal" }
func (d *Document) snapshotPath() string { return d.basePath + ".snapshot" }
func (d *Document) newSnapshotPath() string {
	return d.basePath + ".snapshot.new"
}

func (d *Document) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// AddCommand mutates the document at path. A Go nil value deletes the
// path; the Null sentinel stores a real JSON null. See path.go for the
// path grammar. The command is written to the mapped journal file before
// it is applied to the in-memory document and appended to the in-memory
// journal: a crash after the write leaves the command on disk for the
// next recovery to replay, so the journal file is the source of truth.
func (d *Document) AddCommand(path string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &ClosedError{}
	}

	cmd := &Command{Path: path, Timestamp: d.opt.now().UnixNano()}
	if value == nil {
		cmd.IsDelete = true
	} else {
		cmd.Value = deepCopyValue(value)
	}

	if err := d.writeCommandLocked(cmd); err != nil {
		return err
	}

	dirs, err := parsePath(path)
	if err != nil {
		return err
	}
	newRoot, err := applyDirectives(d.root, dirs, cmd.Value, cmd.IsDelete)
	if err != nil {
		return err
	}
	if newRoot != nil {
		d.root = newRoot
	}

	d.journal.Add(cmd)
	return nil
}

// writeCommandLocked implements spec.md §4.F step 1-2: serialize cmd to
// the stream, and on BufferOverflow, snapshot once and retry exactly once.
func (d *Document) writeCommandLocked(cmd *Command) error {
	payload, err := cmd.MarshalRecord()
	if err != nil {
		return err
	}
	if err := journal.WriteRecord(d.stream, payload); err == nil {
		return nil
	} else if _, ok := asOverflow(err); !ok {
		return ioErrf("writing command to stream", err)
	}

	d.log.Info("stream buffer overflow, snapshotting and retrying")
	if err := d.snapshotLocked(); err != nil {
		return err
	}
	if err := journal.WriteRecord(d.stream, payload); err != nil {
		return fatalf(err, "command still overflows stream after snapshot")
	}
	return nil
}

func asOverflow(err error) (*BufferOverflowError, bool) {
	o, ok := err.(*BufferOverflowError)
	return o, ok
}

// Snapshot atomically replaces the on-disk snapshot with the current
// in-memory document: it writes the document to .snapshot.new, clears the
// in-memory journal and the mapped stream, writes an empty journal header
// to the stream, and renames .snapshot.new over .snapshot.
func (d *Document) Snapshot() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &ClosedError{}
	}
	return d.snapshotLocked()
}

func (d *Document) snapshotLocked() error {
	if err := writeSnapshot(d.newSnapshotPath(), d.root); err != nil {
		if _, ok := err.(*UnsupportedValueError); ok {
			return fatalf(err, "snapshot contains an unserializable value")
		}
		return err
	}

	d.journal.Clear()
	d.stream.Clear()
	if err := d.journal.Serialize(d.stream); err != nil {
		return fatalf(err, "writing empty journal header after snapshot")
	}

	if err := os.Rename(d.newSnapshotPath(), d.snapshotPath()); err != nil {
		return fatalf(err, "renaming snapshot into place")
	}
	d.log.Debug("snapshot written")
	return nil
}

// SnapshotIfHighWater snapshots if the stream's used bytes have crossed
// highWater, double-checking the condition once the mutation lock is held.
func (d *Document) SnapshotIfHighWater() error {
	if d.peekPosition() < d.highWater {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &ClosedError{}
	}
	if d.stream.Position() < d.highWater {
		return nil
	}
	return d.snapshotLocked()
}

func (d *Document) peekPosition() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream.Position()
}

// Close snapshots once, marks the document closed, and releases the
// mapped stream. Subsequent mutations fail with *ClosedError.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	snapErr := d.snapshotLocked()
	closeErr := d.stream.Close()
	d.closed = true
	runtime.SetFinalizer(d, nil)
	if snapErr != nil {
		return snapErr
	}
	return closeErr
}

// Get resolves path against the live document without taking the
// mutation lock; it is safe to call concurrently with mutations.
func (d *Document) Get(path string) (Node, bool, error) {
	dirs, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}
	current := Node(d.root)
	for _, dd := range dirs {
		child, exists, err := getChild(current, dd)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, nil
		}
		current = child
	}
	return current, true, nil
}

// Size returns the number of entries in the document root.
func (d *Document) Size() int { return d.root.Len() }

// Keys returns the document root's top-level field names, sorted for
// deterministic output.
func (d *Document) Keys() []string { return d.root.Keys() }

// DocumentExists reports whether a document previously lived at basePath.
func DocumentExists(basePath string) bool {
	_, err := os.Stat(basePath + ".snapshot")
	return err == nil
}

// LoadDocumentContents runs the recovery loader (component G) against
// basePath and returns the recovered document as a plain map, without
// opening it for mutation.
func LoadDocumentContents(basePath, typeTag string, version uint32) (map[string]any, error) {
	root, cmds, err := recoverDocument(basePath, typeTag, version, slog.Default())
	if err != nil {
		return nil, err
	}
	root, err = replayCommands(root, cmds)
	if err != nil {
		return nil, err
	}
	plain, err := toPlain(root)
	if err != nil {
		return nil, err
	}
	return plain.(map[string]any), nil
}

// replayCommands applies cmds to root in order, as spec.md §4.C's
// applyTo describes: any failing command aborts the whole apply.
func replayCommands(root *Map, cmds []*Command) (*Map, error) {
	for _, c := range cmds {
		dirs, err := parsePath(c.Path)
		if err != nil {
			return nil, err
		}
		newRoot, err := applyDirectives(root, dirs, c.Value, c.IsDelete)
		if err != nil {
			return nil, err
		}
		if newRoot != nil {
			root = newRoot
		}
	}
	return root, nil
}
