package crud

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/crudkit/internal/store"
)

func TestChunkSize(t *testing.T) {
	p := &BatchProcessor{Threshold: 50, MaxChunkSize: 500}

	tests := []struct {
		total int
		want  int
	}{
		{60, 50},    // a tenth is below the threshold
		{500, 50},   // exactly the threshold
		{1000, 100}, // a tenth
		{9000, 500}, // capped
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, p.ChunkSize(tt.total))
		})
	}
}

// A zero-valued processor must still make progress chunk by chunk.
func TestChunkSize_ZeroValuedProcessor(t *testing.T) {
	p := &BatchProcessor{}
	assert.Equal(t, 1, p.ChunkSize(5))

	results, err := p.Run(context.Background(), batchRecords(3), func(ctx context.Context, chunk []store.Record) ([]store.Record, error) {
		return chunk, nil
	})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func batchRecords(n int) []store.Record {
	out := make([]store.Record, n)
	for i := range out {
		out[i] = store.Record{"id": fmt.Sprint(i)}
	}
	return out
}

func TestBatchRun_SequentialOrderedChunks(t *testing.T) {
	p := &BatchProcessor{Threshold: 3, MaxChunkSize: 3}
	records := batchRecords(8)

	var chunkSizes []int
	results, err := p.Run(context.Background(), records, func(ctx context.Context, chunk []store.Record) ([]store.Record, error) {
		chunkSizes = append(chunkSizes, len(chunk))
		return chunk, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 2}, chunkSizes)
	require.Len(t, results, 8)
	for i, rec := range results {
		assert.Equal(t, fmt.Sprint(i), rec["id"], "results keep input order")
	}
}

func TestBatchRun_PartialFailure(t *testing.T) {
	p := &BatchProcessor{Threshold: 3, MaxChunkSize: 3}
	records := batchRecords(8)
	boom := errors.New("write failed")

	calls := 0
	results, err := p.Run(context.Background(), records, func(ctx context.Context, chunk []store.Record) ([]store.Record, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return chunk, nil
	})

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 1, batchErr.Chunk)
	assert.Equal(t, 3, batchErr.Start)
	assert.Equal(t, 5, batchErr.End)
	assert.Equal(t, 3, batchErr.Persisted)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 2, calls, "no chunk runs after a failure")
	assert.Len(t, results, 3, "earlier chunks stay persisted")
}

func TestBatchError_Message(t *testing.T) {
	err := &BatchError{Chunk: 1, Start: 3, End: 5, Persisted: 3, Err: errors.New("boom")}
	assert.Equal(t, "bulk write failed on chunk 1 (records 3-5); 3 earlier records persisted: boom", err.Error())
}
