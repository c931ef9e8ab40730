package crud

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/crudkit/internal/store"
)

// BatchError reports a bulk write that failed partway: chunks before Chunk
// are persisted, the failing chunk and everything after it are not. Start
// and End are the record index range of the failing chunk.
type BatchError struct {
	Chunk     int
	Start     int
	End       int
	Persisted int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("bulk write failed on chunk %d (records %d-%d); %d earlier records persisted: %v",
		e.Chunk, e.Start, e.End, e.Persisted, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// BatchProcessor splits large bulk writes into ordered chunks executed
// sequentially. Chunking bounds write size only; it gives no atomicity
// across chunks.
type BatchProcessor struct {
	// Threshold is the minimum chunk size and the count above which bulk
	// writes are chunked at all.
	Threshold int
	// MaxChunkSize caps one chunk.
	MaxChunkSize int
}

// ChunkSize computes the chunk size for a total: a tenth of the total,
// no smaller than the threshold and no larger than the cap.
func (p *BatchProcessor) ChunkSize(total int) int {
	size := total / 10
	if size < p.Threshold {
		size = p.Threshold
	}
	if p.MaxChunkSize > 0 && size > p.MaxChunkSize {
		size = p.MaxChunkSize
	}
	if size < 1 {
		size = 1
	}
	return size
}

// Run executes fn over ordered chunks of records sequentially and
// concatenates the results in input order. A mid-batch failure returns a
// BatchError naming the failed chunk and the number of records already
// persisted by earlier chunks.
func (p *BatchProcessor) Run(ctx context.Context, records []store.Record, fn func(ctx context.Context, chunk []store.Record) ([]store.Record, error)) ([]store.Record, error) {
	size := p.ChunkSize(len(records))
	var results []store.Record
	chunk := 0
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		saved, err := fn(ctx, records[start:end])
		if err != nil {
			log.Error().Err(err).
				Int("chunk", chunk).
				Int("persisted", len(results)).
				Int("total", len(records)).
				Msg("Bulk write failed mid-batch")
			return results, &BatchError{
				Chunk:     chunk,
				Start:     start,
				End:       end - 1,
				Persisted: len(results),
				Err:       err,
			}
		}
		results = append(results, saved...)
		chunk++
	}
	return results, nil
}
