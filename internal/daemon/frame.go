// Package daemon implements the daemon runtime (C10): the Unix-socket
// IPC surface, request/response dispatch, and the sync Backend
// abstraction. One goroutine per accepted connection calls dispatch
// directly rather than funneling through a single owner goroutine or
// channel, since the state dispatch touches is already individually
// safe for concurrent use (sqlite.DB pools to one connection, Oplog and
// Queue each hold their own mutex); only the HLC source needs explicit
// serialization, via Daemon.clockMu.
package daemon

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameBytes bounds one IPC frame per §6.3.
const maxFrameBytes = 16 * 1024 * 1024

// writeFrame writes a length-prefixed frame: a big-endian u32 length
// followed by data.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameBytes {
		return fmt.Errorf("daemon: frame of %d bytes exceeds %d byte limit", len(data), maxFrameBytes)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("daemon: write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("daemon: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame. A length exceeding
// maxFrameBytes is a protocol error; the caller should close the
// connection rather than try to resynchronize.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err // includes io.EOF on clean disconnect
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("daemon: frame length %d exceeds %d byte limit", n, maxFrameBytes)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("daemon: read frame body: %w", err)
	}
	return data, nil
}
