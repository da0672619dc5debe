package persistence

import (
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "persistence")

// maxAttempts bounds how often one operation is retried before it is dropped.
const maxAttempts = 3

// WriteOp represents a database write operation.
type WriteOp struct {
	Table string
	Query string
	Args  []any

	attempts int
}

// BatchWriter batches database writes into one transaction per flush.
type BatchWriter struct {
	db          *sql.DB
	buffer      []WriteOp
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup

	totalWrites   atomic.Uint64
	totalBatches  atomic.Uint64
	totalErrors   atomic.Uint64
	totalDropped  atomic.Uint64
	lastBatchSize atomic.Int64
	lastFlush     atomic.Int64
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	TotalDropped  uint64    `json:"total_dropped"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
	Pending       int       `json:"pending"`
}

// NewBatchWriter creates a batch writer.
// maxSize: max operations before auto-flush
// interval: time-based flush interval
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		db:          db,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write adds a write operation to the batch.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		if err := bw.Flush(); err != nil {
			log.Warnf("batch writer: size flush error: %v", err)
		}
	}
}

// WriteQuery is a convenience method for simple queries.
func (bw *BatchWriter) WriteQuery(table, query string, args ...any) {
	bw.Write(WriteOp{Table: table, Query: query, Args: args})
}

// Flush writes all buffered operations in one transaction. When the batch
// fails, the operations it did not get to commit go back to the front of
// the buffer for the next flush; the statement that failed is charged an
// attempt and dropped once it has used up maxAttempts.
func (bw *BatchWriter) Flush() error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	failed, err := bw.executeBatch(ops)
	if err != nil {
		bw.requeue(ops, failed)
	}
	return err
}

// executeBatch runs ops in a transaction. On error it returns the index of
// the failing statement, or -1 when the transaction itself failed.
func (bw *BatchWriter) executeBatch(ops []WriteOp) (int, error) {
	bw.totalBatches.Add(1)
	bw.lastBatchSize.Store(int64(len(ops)))
	bw.lastFlush.Store(time.Now().UnixNano())

	tx, err := bw.db.Begin()
	if err != nil {
		bw.totalErrors.Add(1)
		log.Errorf("batch writer: begin transaction: %v", err)
		return -1, err
	}

	for i, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			_ = tx.Rollback()
			bw.totalErrors.Add(1)
			log.Errorf("batch writer: %s write failed, rolling back %d ops: %v", op.Table, len(ops), err)
			return i, err
		}
	}

	if err := tx.Commit(); err != nil {
		bw.totalErrors.Add(1)
		log.Errorf("batch writer: commit failed: %v", err)
		return -1, err
	}

	bw.totalWrites.Add(uint64(len(ops)))
	log.Debugf("batch writer: flushed %d operations", len(ops))
	return -1, nil
}

// requeue puts a rolled-back batch back ahead of anything written since.
// failed is the statement to blame, or -1 to charge the whole batch.
func (bw *BatchWriter) requeue(ops []WriteOp, failed int) {
	retry := make([]WriteOp, 0, len(ops))
	for i, op := range ops {
		if failed < 0 || i == failed {
			op.attempts++
		}
		if op.attempts >= maxAttempts {
			bw.totalDropped.Add(1)
			log.Errorf("batch writer: dropping %s write after %d attempts", op.Table, op.attempts)
			continue
		}
		retry = append(retry, op)
	}

	bw.mu.Lock()
	bw.buffer = append(retry, bw.buffer...)
	bw.mu.Unlock()
}

// backgroundFlush periodically flushes the buffer.
func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				log.Warnf("batch writer: background flush error: %v", err)
			}
		case <-bw.done:
			// Every failed flush charges an attempt, so this ends.
			for bw.Pending() > 0 {
				err := bw.Flush()
				if err == nil {
					break
				}
				log.Warnf("batch writer: final flush error: %v", err)
			}
			return
		}
	}
}

// Pending returns the number of pending operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	m := BatchWriterMetrics{
		TotalWrites:   bw.totalWrites.Load(),
		TotalBatches:  bw.totalBatches.Load(),
		TotalErrors:   bw.totalErrors.Load(),
		TotalDropped:  bw.totalDropped.Load(),
		LastBatchSize: int(bw.lastBatchSize.Load()),
		Pending:       bw.Pending(),
	}
	if ns := bw.lastFlush.Load(); ns != 0 {
		m.LastFlushTime = time.Unix(0, ns)
	}
	return m
}

// Close flushes what is buffered and stops the background loop. Safe to call twice.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
