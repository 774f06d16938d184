package monitor

import (
	"sync"

	"github.com/harrison/sentinel/internal/models"
)

// DefaultLogBufferSize is used when the aggregator is built with a non-positive size
const DefaultLogBufferSize = 1000

// LogAggregator buffers log records between CollectLogs ticks. It implements
// logger.Sink. When full, the oldest record is dropped.
type LogAggregator struct {
	mu      sync.Mutex
	buf     []models.LogRecord
	head    int // index of the oldest record
	size    int
	dropped uint64
}

// NewLogAggregator creates a buffer holding at most capacity records
func NewLogAggregator(capacity int) *LogAggregator {
	if capacity <= 0 {
		capacity = DefaultLogBufferSize
	}
	return &LogAggregator{buf: make([]models.LogRecord, capacity)}
}

// Append adds a record without blocking
func (a *LogAggregator) Append(rec models.LogRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.size == len(a.buf) {
		a.buf[a.head] = rec
		a.head = (a.head + 1) % len(a.buf)
		a.dropped++
		return
	}
	a.buf[(a.head+a.size)%len(a.buf)] = rec
	a.size++
}

// Drain removes and returns all buffered records, oldest first
func (a *LogAggregator) Drain() []models.LogRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.size == 0 {
		return nil
	}
	out := make([]models.LogRecord, a.size)
	for i := range out {
		out[i] = a.buf[(a.head+i)%len(a.buf)]
		a.buf[(a.head+i)%len(a.buf)] = models.LogRecord{}
	}
	a.head, a.size = 0, 0
	return out
}

// Len returns the number of buffered records
func (a *LogAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Dropped returns how many records were overwritten because the buffer was full
func (a *LogAggregator) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
