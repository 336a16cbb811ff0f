// Package logbuf implements the log buffer of spec §4.H: during per-row
// file matching, log records are held back and either replayed or
// discarded depending on whether the row ends up ignored.
//
// Grounded on sap-gg-gok's internal/logging.RedactingWriter: rather than
// wrapping the logger, a writer sits in front of the real sink and the
// logger is left untouched. Buffering is achieved the same way — by
// swapping the writer a zerolog.Logger writes to.
package logbuf

import (
	"fmt"
	"io"
	"sync"
)

// Buffer is an io.Writer that can be pushed in front of a real sink,
// capturing every write, then either flushed (replayed to the sink in
// order) or discarded.
type Buffer struct {
	mu      sync.Mutex
	sink    io.Writer
	records [][]byte
	started bool
}

// New returns a Buffer that will eventually write to sink.
func New(sink io.Writer) *Buffer {
	return &Buffer{sink: sink}
}

// Write implements io.Writer by recording p verbatim. Calls are not
// thread-safe across concurrent goroutines by design — the cooperative,
// single-threaded model of spec §5 is assumed.
func (b *Buffer) Write(p []byte) (int, error) {
	if !b.started {
		return 0, fmt.Errorf("logbuf: write before Start")
	}
	cp := append([]byte(nil), p...)
	b.records = append(b.records, cp)
	return len(p), nil
}

// Start begins buffering. Calling Start twice without an intervening End is
// a programming error.
func (b *Buffer) Start() {
	if b.started {
		panic("logbuf: Start called while already buffering")
	}
	b.started = true
	b.records = nil
}

// End stops buffering. If discard is false, every buffered record is
// written to the underlying sink in order; if true, the records are
// dropped. Calling End without a preceding Start is a programming error.
func (b *Buffer) End(discard bool) error {
	if !b.started {
		panic("logbuf: End called without Start")
	}
	b.started = false

	if discard {
		b.records = nil
		return nil
	}
	for _, r := range b.records {
		if _, err := b.sink.Write(r); err != nil {
			return err
		}
	}
	b.records = nil
	return nil
}

var _ io.Writer = (*Buffer)(nil)
