package busstate

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"golang.org/x/time/rate"
)

// DefaultChunkSize is the number of items per chunk when BatchWriterConfig.ChunkSize is not set
const DefaultChunkSize = kvstore.MaxBatchKeys

// BatchWriterConfig controls chunking and pacing of BatchWriter
type BatchWriterConfig struct {
	// ChunkSize is the number of items sent per BatchWrite, DefaultChunkSize if zero
	ChunkSize int
	// ChunkInterval is the minimum time between two chunk writes, zero disables pacing
	ChunkInterval time.Duration
}

// BatchWriter buffers records and writes them to the store in paced chunks
type BatchWriter struct {
	store     kvstore.Store
	chunkSize int
	limiter   *rate.Limiter
	pending   []kvstore.Item
	written   int
}

// NewBatchWriter creates BatchWriter on store
func NewBatchWriter(store kvstore.Store, cfg BatchWriterConfig) *BatchWriter {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	limit := rate.Inf
	if cfg.ChunkInterval > 0 {
		limit = rate.Every(cfg.ChunkInterval)
	}
	return &BatchWriter{
		store:     store,
		chunkSize: chunkSize,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Put queues record under key, writing a chunk when enough items are pending
func (b *BatchWriter) Put(ctx context.Context, key string, record any) error {
	item, err := NewItem(key, record, nil)
	if err != nil {
		return err
	}
	b.pending = append(b.pending, item)
	if len(b.pending) >= b.chunkSize {
		return b.writeChunk(ctx)
	}
	return nil
}

// Flush writes all pending items
func (b *BatchWriter) Flush(ctx context.Context) error {
	for len(b.pending) > 0 {
		if err := b.writeChunk(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Written returns the number of items sent to the store so far
func (b *BatchWriter) Written() int {
	return b.written
}

func (b *BatchWriter) writeChunk(ctx context.Context) error {
	size := b.chunkSize
	if size > len(b.pending) {
		size = len(b.pending)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting to write chunk: %w", err)
	}
	if err := b.store.BatchWrite(ctx, b.pending[:size]); err != nil {
		return fmt.Errorf("writing chunk of %d items: %w", size, err)
	}
	b.written += size
	b.pending = b.pending[size:]
	return nil
}
