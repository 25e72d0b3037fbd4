// Package extract fetches raw batches from the upstream sources.
package extract

import (
	"context"
	"fmt"

	"cryptoetl/pkg/models"
)

// Source is implemented by each upstream (remote API or local file). A
// source only fetches; mapping into UnifiedAsset belongs to transform.
type Source interface {
	Kind() models.Source
	Fetch(ctx context.Context) ([]models.RawRecord, error)
}

// ExtractionError reports a source that stayed unreachable after every
// retry. The next run is expected to recover.
type ExtractionError struct {
	Source   models.Source
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: failed after %d attempt(s): %v", e.Source, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
