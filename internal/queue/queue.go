// Package queue implements the two persistent append-only buffers from
// §4.6: the WebSocket backend's offline queue and the Git backend's
// WAL. Both share the same on-disk shape (JSONL, fsync on append,
// tolerant of a truncated trailing line after a crash) and differ only
// in how their contents are drained — peek_all/clear for the offline
// queue, take_all for the WAL — so both are built on the same Queue
// type with drain semantics chosen by the caller.
package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/wok-oss/wok/internal/op"
)

const maxLineBytes = 64 * 1024 * 1024

// Queue is a handle on a JSONL file of pending ops.
type Queue struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open loads path (creating it if absent). A truncated trailing line
// from a crash mid-append is silently dropped; any other malformed line
// fails the load, matching the oplog's strictness (§4.6, §6.2).
func Open(path string) (*Queue, error) {
	// #nosec G304 -- path is operator-controlled daemon-dir configuration
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}

	if _, err := readAll(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("queue: seek %s: %w", path, err)
	}

	return &Queue{path: path, file: f}, nil
}

// Append writes op to the queue with an fsync, per §4.6's crash-safety
// requirement.
func (q *Queue) Append(o op.Op) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	line, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("queue: marshal op %s: %w", o.ID, err)
	}
	line = append(line, '\n')
	if _, err := q.file.Write(line); err != nil {
		return fmt.Errorf("queue: write op %s: %w", o.ID, err)
	}
	return q.file.Sync()
}

// PeekAll returns every queued op without removing them. Used by the
// WebSocket client's flush_queue, which clears the queue only once the
// server has acknowledged via a sync/snapshot response (§4.6).
func (q *Queue) PeekAll() ([]op.Op, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// #nosec G304 -- path is the handle's own, opened by Open above
	f, err := os.Open(q.path)
	if err != nil {
		return nil, fmt.Errorf("queue: reopen %s: %w", q.path, err)
	}
	defer func() { _ = f.Close() }()
	return readAll(f)
}

// Clear truncates the queue file. Called only after a full sync
// response has been processed, never per-op, so a dropped connection
// mid-flush never loses an op (§4.6).
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.file.Truncate(0); err != nil {
		return fmt.Errorf("queue: truncate %s: %w", q.path, err)
	}
	_, err := q.file.Seek(0, os.SEEK_SET)
	if err != nil {
		return fmt.Errorf("queue: seek %s: %w", q.path, err)
	}
	return nil
}

// TakeAll atomically drains the queue: it returns every op currently in
// the file and clears it in the same critical section, so no op can be
// appended and then silently dropped between the read and the clear.
// This is the Git backend's WAL contract (§4.6).
func (q *Queue) TakeAll() ([]op.Op, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// #nosec G304 -- path is the handle's own, opened by Open above
	f, err := os.Open(q.path)
	if err != nil {
		return nil, fmt.Errorf("queue: reopen %s: %w", q.path, err)
	}
	ops, err := readAll(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}

	if err := q.file.Truncate(0); err != nil {
		return nil, fmt.Errorf("queue: truncate %s: %w", q.path, err)
	}
	if _, err := q.file.Seek(0, os.SEEK_SET); err != nil {
		return nil, fmt.Errorf("queue: seek %s: %w", q.path, err)
	}
	return ops, nil
}

// Count returns the number of ops currently queued, used for the
// daemon's Status.pending_ops (§4.10).
func (q *Queue) Count() (int, error) {
	ops, err := q.PeekAll()
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Close releases the underlying file handle.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.file.Close()
}

func readAll(f *os.File) ([]op.Op, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines [][]byte
	for scanner.Scan() {
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	scanErr := scanner.Err()

	ops := make([]op.Op, 0, len(lines))
	for i, raw := range lines {
		line := trimBlank(raw)
		if len(line) == 0 {
			continue
		}
		var o op.Op
		if err := json.Unmarshal(line, &o); err != nil {
			if i == len(lines)-1 && scanErr == nil {
				continue
			}
			return nil, fmt.Errorf("queue: malformed line %d: %w", i+1, err)
		}
		ops = append(ops, o)
	}
	return ops, nil
}

func trimBlank(line []byte) []byte {
	i, j := 0, len(line)
	for i < j && isSpace(line[i]) {
		i++
	}
	for j > i && isSpace(line[j-1]) {
		j--
	}
	return line[i:j]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }
