package ledger

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Batch defaults
const (
	DefaultBatchSize     = 32
	DefaultFlushInterval = time.Second
)

// FlushFunc writes a batch of records.
type FlushFunc func(records []Record) error

// Batcher buffers records and flushes them when the batch is full or the flush
// interval has elapsed since the first buffered record.
type Batcher struct {
	mu       sync.Mutex
	records  []Record
	size     int
	interval time.Duration
	timer    *time.Timer
	onFlush  FlushFunc
	closed   bool
}

// NewBatcher creates a batcher. Non-positive arguments select the defaults.
func NewBatcher(size int, interval time.Duration, onFlush FlushFunc) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Batcher{
		size:     size,
		interval: interval,
		onFlush:  onFlush,
	}
}

// Add buffers a record, flushing synchronously once the batch is full.
// Records added after Close are dropped.
func (b *Batcher) Add(r Record) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.records = append(b.records, r)

	var full []Record
	if len(b.records) >= b.size {
		full = b.take()
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.flush)
	}
	b.mu.Unlock()

	b.write(full)
}

// Flush writes whatever is buffered.
func (b *Batcher) Flush() {
	b.flush()
}

// Close flushes the remaining records and stops accepting new ones.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	records := b.take()
	b.mu.Unlock()

	b.write(records)
}

// Pending returns the number of buffered records.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

func (b *Batcher) flush() {
	b.mu.Lock()
	records := b.take()
	b.mu.Unlock()

	b.write(records)
}

// take detaches the buffer and stops the timer. Callers hold mu.
func (b *Batcher) take() []Record {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	records := b.records
	b.records = nil
	return records
}

func (b *Batcher) write(records []Record) {
	if len(records) == 0 {
		return
	}
	if err := b.onFlush(records); err != nil {
		log.Error().Err(err).Int("records", len(records)).Msg("Failed to write ledger batch")
	}
}
