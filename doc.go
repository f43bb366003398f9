/*
Package booker implements a crash-resilient journaled document store.

It keeps one hierarchical, JSON-shaped document in memory and persists
every mutation to an append-only command journal backed by a
memory-mapped file, snapshotting the whole document to a plain JSON file
when the journal file runs out of room, when SnapshotIfHighWater finds it
past a high-water mark, or on request. After a crash of any
kind — including hard signals — an external process can reconstruct the
last consistent document from the on-disk snapshot and journal alone,
without this package ever having run a clean shutdown.

# Technical details

**On-disk layout.** For a base path P, a Document owns three paths:

 1. P+".snapshot" — canonical JSON document.
 2. P+".snapshot.new" — transient; present only mid-swap.
 3. P+".journal" — a fixed-size memory-mapped file holding a journal
    header, framed commands, and a sentinel-byte-filled tail.

**Mutation protocol.** AddCommand writes the command's framing to the
mapped journal file before applying it to the in-memory document and
appending it to the in-memory journal list; see document.go for why that
ordering, not memory-then-disk, is what recovery depends on.

**Binary encoding.**

Command frame (see command.go and the journal package): marker byte,
then byte-stuffed [uvarint record length, record, 8-byte checksum],
where the record is [varint timestamp, uvarint path length, path bytes,
value tag, msgpack value payload (absent for a deletion)]. No literal
journal sentinel byte survives
byte-stuffing, so a reader can always tell a real frame from the unused
tail.

**Path addressing.** See path.go for the dot-separated path grammar used
to address a position inside the document (map keys, list indices,
last-index, append, and numeric add).
*/
package booker
