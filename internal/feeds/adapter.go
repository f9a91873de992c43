package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
)

// ErrNotFound is returned by GetDetails when the source has no record for a value
var ErrNotFound = errors.New("indicator not found at source")

// RecordKind tells Normalize how to read a payload
type RecordKind string

const (
	RecordIndicator RecordKind = "indicator"
	RecordPulse     RecordKind = "pulse"
)

// RawRecord is an opaque vendor record. Its payload never leaves the adapter that
// produced it; everything downstream sees only Normalized output.
type RawRecord struct {
	Kind       RecordKind
	ExternalID string
	Payload    json.RawMessage
	FetchedAt  time.Time
}

// Normalized is the canonical form of one raw record
type Normalized struct {
	Observations []indicator.Observation
	// Pulse is set when the record was a campaign grouping
	Pulse *indicator.Pulse
	// Skipped holds per-observable problems inside an otherwise valid record
	Skipped []error
}

// Adapter is implemented once per vendor. Adapters only return data; they never
// touch persistence.
//
// Fetch errors are SourceUnavailable or RateLimited AppErrors. Normalize returns
// a NormalizationError for a malformed record.
type Adapter interface {
	Name() string
	FetchLatest(ctx context.Context, limit int) ([]RawRecord, error)
	SearchByQuery(ctx context.Context, query string) ([]RawRecord, error)
	GetDetails(ctx context.Context, value string, kind indicator.Type) (RawRecord, error)
	Normalize(raw RawRecord) (Normalized, error)
}
