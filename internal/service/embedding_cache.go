package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/repository"
	"golang.org/x/sync/errgroup"
)

// EmbeddingStore is the persistence used by EmbeddingCache.
type EmbeddingStore interface {
	GetByReportIDs(ctx context.Context, reportIDs []uint) (map[uint]domain.ReportEmbedding, error)
	Upsert(ctx context.Context, embeddings []domain.ReportEmbedding) error
}

// EmbeddingFailure records a report that could not be encoded.
type EmbeddingFailure struct {
	ReportID uint   `json:"report_id"`
	Error    string `json:"error"`
}

// EmbeddingSet holds the vectors for a list of reports.
// Vectors[i] belongs to the i-th input report and is nil when that report failed.
type EmbeddingSet struct {
	Vectors  [][]float32
	Failures []EmbeddingFailure
	Cached   int
	Computed int
}

// Failed reports whether the i-th report has no vector.
func (s *EmbeddingSet) Failed(i int) bool {
	return s.Vectors[i] == nil
}

// EmbeddingCache returns report embeddings from the store, encoding and
// persisting the ones that are missing or were produced by another model.
type EmbeddingCache struct {
	store   EmbeddingStore
	encoder Encoder
	indexer ReportIndexer
	logger  *logger.Logger
}

// NewEmbeddingCache creates a new EmbeddingCache.
// Parameters:
//   - store: persistence for cached vectors.
//   - encoder: the process-wide encoder; its model identity keys the cache.
//   - log: fallback logger when the context carries none.
//
// Returns:
//   - *EmbeddingCache: cache bound to store and encoder.
func NewEmbeddingCache(store EmbeddingStore, encoder Encoder, log *logger.Logger) *EmbeddingCache {
	return &EmbeddingCache{store: store, encoder: encoder, logger: log}
}

// SetIndexer makes the cache write every newly computed vector to a spatial index
// alongside the store.
func (c *EmbeddingCache) SetIndexer(indexer ReportIndexer) {
	c.indexer = indexer
}

// Encoder returns the encoder whose embedding space the cache serves.
func (c *EmbeddingCache) Encoder() Encoder {
	return c.encoder
}

func (c *EmbeddingCache) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// EmbeddingsFor returns one vector per report, in input order. All returned vectors
// come from the current encoder model. Newly computed vectors are persisted before
// returning. A report whose text cannot be encoded is listed in Failures and left nil;
// the rest of the batch is unaffected. The error is non-nil only when ctx ends.
func (c *EmbeddingCache) EmbeddingsFor(ctx context.Context, reports []domain.Report) (*EmbeddingSet, error) {
	set := &EmbeddingSet{Vectors: make([][]float32, len(reports))}
	if len(reports) == 0 {
		return set, nil
	}

	modelName := c.encoder.ModelName()
	modelVersion := c.encoder.ModelVersion()
	dims := c.encoder.Dimensions()

	ids := make([]uint, len(reports))
	for i, r := range reports {
		ids[i] = r.ID
	}

	stored, err := c.store.GetByReportIDs(ctx, ids)
	if err != nil {
		c.log(ctx).WithError(err).Warn("Embedding lookup failed, encoding all reports")
		stored = nil
	}

	var pending []int
	for i, r := range reports {
		row, ok := stored[r.ID]
		if ok && row.Matches(modelName, modelVersion) && (dims <= 0 || len(row.Embedding) == dims) {
			set.Vectors[i] = row.Embedding
			set.Cached++
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return set, nil
	}

	texts := make([]string, len(pending))
	for k, i := range pending {
		texts[k] = ReportText(reports[i].Title, reports[i].Description)
	}

	start := time.Now()
	vectors, errs, err := c.encodeIsolated(ctx, texts)
	if err != nil {
		return nil, err
	}

	var fresh []domain.ReportEmbedding
	var points []repository.ReportPoint
	for k, i := range pending {
		if errs[k] != nil {
			set.Failures = append(set.Failures, EmbeddingFailure{ReportID: reports[i].ID, Error: errs[k].Error()})
			continue
		}
		set.Vectors[i] = vectors[k]
		set.Computed++
		fresh = append(fresh, domain.ReportEmbedding{
			ReportID:     reports[i].ID,
			Embedding:    domain.Vector(vectors[k]),
			Dimension:    len(vectors[k]),
			ModelName:    modelName,
			ModelVersion: modelVersion,
		})
		points = append(points, reportPoint(reports[i], vectors[k]))
	}

	if err := c.store.Upsert(ctx, fresh); err != nil {
		c.log(ctx).WithError(err).Warnf("Failed to persist %d embeddings", len(fresh))
	}
	if c.indexer != nil && len(points) > 0 {
		if err := c.indexer.Upsert(ctx, points); err != nil {
			c.log(ctx).WithError(err).Warnf("Failed to index %d reports", len(points))
		}
	}

	entry := c.log(ctx).WithFields(logger.Fields{
		logger.FieldCount:      len(reports),
		"cached":               set.Cached,
		"computed":             set.Computed,
		"failed":               len(set.Failures),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	})
	if len(set.Failures) > 0 {
		entry.Warn("Embeddings resolved with failures")
	} else {
		entry.Debug("Embeddings resolved")
	}

	return set, nil
}

// EncodeText encodes a single ad-hoc text, such as a report that has not been stored yet.
func (c *EmbeddingCache) EncodeText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.encoder.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("encoder returned %d vectors for 1 text", len(vectors))
	}
	return vectors[0], nil
}

// encodeIsolated encodes texts in chunks of the encoder's batch size, in parallel.
// A failed chunk is retried item by item so one bad text only fails itself.
func (c *EmbeddingCache) encodeIsolated(ctx context.Context, texts []string) ([][]float32, []error, error) {
	vectors := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	batch := c.encoder.BatchSize()
	if batch <= 0 {
		batch = len(texts)
	}

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(texts); lo += batch {
		hi := lo + batch
		if hi > len(texts) {
			hi = len(texts)
		}
		lo := lo
		g.Go(func() error {
			chunk, err := c.encodeChunk(gctx, texts[lo:hi])
			if err == nil {
				copy(vectors[lo:hi], chunk)
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}

			c.log(ctx).WithError(err).Warnf("Batch encode of %d texts failed, retrying individually", hi-lo)
			for k := lo; k < hi; k++ {
				one, err := c.encodeChunk(gctx, texts[k:k+1])
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					errs[k] = err
					continue
				}
				vectors[k] = one[0]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vectors, errs, nil
}

func (c *EmbeddingCache) encodeChunk(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := c.encoder.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(out), len(texts))
	}
	dims := c.encoder.Dimensions()
	for i, v := range out {
		if len(v) == 0 || (dims > 0 && len(v) != dims) {
			return nil, fmt.Errorf("encoder returned vector %d with dimension %d, expected %d", i, len(v), dims)
		}
	}
	return out, nil
}
