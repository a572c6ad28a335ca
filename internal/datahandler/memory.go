package datahandler

import (
	"context"
	"sync"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// MemoryBackend keeps series in process memory.
// It uses a read/write mutex to support concurrent operations.
type MemoryBackend struct {
	mu     sync.RWMutex
	series map[SeriesKey][]models.Candle
	closed bool
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		series: make(map[SeriesKey][]models.Candle),
	}
}

// Format implements Backend.
func (m *MemoryBackend) Format() Format { return FormatMemory }

// Read implements Backend. The returned slice is a copy.
func (m *MemoryBackend) Read(ctx context.Context, key SeriesKey) ([]models.Candle, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError(FormatMemory, "read", key, ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError(FormatMemory, "read", key, errClosed)
	}

	stored, ok := m.series[key]
	if !ok {
		return nil, notFound(key)
	}
	out := make([]models.Candle, len(stored))
	copy(out, stored)
	return out, nil
}

// Write implements Backend. The candles are copied to avoid external mutations.
func (m *MemoryBackend) Write(ctx context.Context, key SeriesKey, candles []models.Candle) error {
	if ctx.Err() != nil {
		return NewStorageError(FormatMemory, "write", key, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError(FormatMemory, "write", key, errClosed)
	}

	stored := make([]models.Candle, len(candles))
	copy(stored, candles)
	m.series[key] = stored
	return nil
}

// Purge implements Backend.
func (m *MemoryBackend) Purge(ctx context.Context, key SeriesKey) (bool, error) {
	if ctx.Err() != nil {
		return false, NewStorageError(FormatMemory, "purge", key, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, NewStorageError(FormatMemory, "purge", key, errClosed)
	}

	if _, ok := m.series[key]; !ok {
		return false, nil
	}
	delete(m.series, key)
	return true, nil
}

// List implements Backend.
func (m *MemoryBackend) List(ctx context.Context, mode models.TradingMode) ([]SeriesKey, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError(FormatMemory, "list", SeriesKey{}, ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError(FormatMemory, "list", SeriesKey{}, errClosed)
	}

	keys := make([]SeriesKey, 0, len(m.series))
	for key := range m.series {
		if modeMatches(key.CandleType, mode) {
			keys = append(keys, key)
		}
	}
	SortKeys(keys)
	return keys, nil
}

// Close implements Backend. Stored data is released.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.series = nil
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
