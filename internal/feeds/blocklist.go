package feeds

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
)

// ProviderBlocklist is the provider key for plain-text and CSV blocklists
const ProviderBlocklist = "blocklist"

const blocklistDefaultReputation = -8

// blocklistEntry is the payload of a blocklist raw record
type blocklistEntry struct {
	Value string `json:"value"`
	Line  int    `json:"line"`
}

// BlocklistAdapter reads one observable per line from a text or CSV feed.
//
// Options:
//   - column: zero-based CSV column holding the observable (default 0)
//   - indicator_type: fixed type for every line; detected per line when unset
//   - reputation: score assigned to every listed value (default -8)
type BlocklistAdapter struct {
	name       string
	endpoint   string
	category   string
	column     int
	fixedType  indicator.Type
	reputation int
	http       *httpClient
	logger     *logger.Logger
}

// NewBlocklistAdapter builds an adapter for a blocklist source
func NewBlocklistAdapter(src *source.Source, opts Options) (Adapter, error) {
	if src.Endpoint == "" {
		return nil, fmt.Errorf("blocklist source %s has no endpoint", src.Name)
	}

	a := &BlocklistAdapter{
		name:       src.Name,
		endpoint:   src.Endpoint,
		category:   categoryForFeed(src.FeedType),
		reputation: blocklistDefaultReputation,
	}

	if raw, ok := src.Options["column"]; ok {
		col, err := strconv.Atoi(raw)
		if err != nil || col < 0 {
			return nil, fmt.Errorf("invalid column %q", raw)
		}
		a.column = col
	}
	if raw, ok := src.Options["indicator_type"]; ok && raw != "" {
		t := indicator.Type(raw)
		if !t.IsValid() {
			return nil, fmt.Errorf("invalid indicator_type %q", raw)
		}
		a.fixedType = t
	}
	if raw, ok := src.Options["reputation"]; ok {
		rep, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid reputation %q: %w", raw, err)
		}
		a.reputation = rep
	}

	headers := map[string]string{}
	token, err := ResolveCredential(src.CredentialRef)
	if err != nil {
		return nil, err
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	a.http = newHTTPClient(src.Name, opts, headers)

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	a.logger = log.WithFields(map[string]interface{}{"adapter": ProviderBlocklist, "source": src.Name})

	return a, nil
}

// Name returns the source name
func (a *BlocklistAdapter) Name() string {
	return a.name
}

// FetchLatest downloads the list and returns its first limit entries
func (a *BlocklistAdapter) FetchLatest(ctx context.Context, limit int) ([]RawRecord, error) {
	entries, err := a.download(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return a.records(entries), nil
}

// SearchByQuery returns entries containing the query, case-insensitively
func (a *BlocklistAdapter) SearchByQuery(ctx context.Context, query string) ([]RawRecord, error) {
	entries, err := a.download(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var matched []blocklistEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Value), q) {
			matched = append(matched, e)
		}
	}
	return a.records(matched), nil
}

// GetDetails returns the entry whose canonical value matches, or ErrNotFound
func (a *BlocklistAdapter) GetDetails(ctx context.Context, value string, kind indicator.Type) (RawRecord, error) {
	want, err := indicator.NewKey(kind, value)
	if err != nil {
		return RawRecord{}, apperrors.Normalization("invalid lookup value", err)
	}

	entries, err := a.download(ctx)
	if err != nil {
		return RawRecord{}, err
	}
	for _, e := range entries {
		typ, ok := a.typeOf(e.Value)
		if !ok || typ != kind {
			continue
		}
		if got, err := indicator.NewKey(typ, e.Value); err == nil && got == want {
			return a.records([]blocklistEntry{e})[0], nil
		}
	}
	return RawRecord{}, ErrNotFound
}

// Normalize maps one line to an observation with the source's fixed reputation
func (a *BlocklistAdapter) Normalize(raw RawRecord) (Normalized, error) {
	var e blocklistEntry
	if err := json.Unmarshal(raw.Payload, &e); err != nil {
		return Normalized{}, apperrors.Normalization("malformed blocklist record", err)
	}
	typ, ok := a.typeOf(e.Value)
	if !ok {
		return Normalized{}, apperrors.Normalization("unrecognized blocklist entry",
			fmt.Errorf("line %d: %q", e.Line, e.Value))
	}
	if _, err := indicator.Canonicalize(typ, e.Value); err != nil {
		return Normalized{}, apperrors.Normalization("invalid blocklist entry",
			fmt.Errorf("line %d: %w", e.Line, err))
	}

	seen := raw.FetchedAt
	return Normalized{
		Observations: []indicator.Observation{{
			Type:       typ,
			Value:      e.Value,
			Reputation: a.reputation,
			Category:   a.category,
			FirstSeen:  seen,
			LastSeen:   seen,
			Tags:       []string{a.name},
		}},
	}, nil
}

func (a *BlocklistAdapter) download(ctx context.Context) ([]blocklistEntry, error) {
	body, err := a.http.get(ctx, a.endpoint)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.SourceUnavailable(a.name, fmt.Errorf("list %s not found", a.endpoint))
	}
	if err != nil {
		return nil, err
	}
	entries, err := parseBlocklist(body, a.column)
	if err != nil {
		return nil, apperrors.SourceUnavailable(a.name, err)
	}
	a.logger.WithFields(map[string]interface{}{"entries": len(entries)}).Debug("Downloaded blocklist")
	return entries, nil
}

func (a *BlocklistAdapter) records(entries []blocklistEntry) []RawRecord {
	fetchedAt := time.Now().UTC()
	out := make([]RawRecord, 0, len(entries))
	for _, e := range entries {
		payload, _ := json.Marshal(e)
		out = append(out, RawRecord{
			Kind:       RecordIndicator,
			ExternalID: strconv.Itoa(e.Line),
			Payload:    payload,
			FetchedAt:  fetchedAt,
		})
	}
	return out
}

func (a *BlocklistAdapter) typeOf(value string) (indicator.Type, bool) {
	if a.fixedType != "" {
		return a.fixedType, true
	}
	return DetectType(value)
}

// parseBlocklist reads a '#'-commented list. Rows shorter than the configured
// column are kept with an empty value so Normalize reports them per line.
func parseBlocklist(body []byte, column int) ([]blocklistEntry, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	var entries []blocklistEntry
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse blocklist: %w", err)
		}
		line, _ := r.FieldPos(0)
		value := ""
		if column < len(row) {
			value = strings.TrimSpace(row[column])
		}
		if value == "" && len(row) == 1 {
			continue
		}
		entries = append(entries, blocklistEntry{Value: value, Line: line})
	}
	return entries, nil
}

// DetectType guesses the indicator type of a bare value
func DetectType(value string) (indicator.Type, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", false
	}
	order := []indicator.Type{indicator.TypeCVE, indicator.TypeIP, indicator.TypeHash}
	for _, t := range order {
		if _, err := indicator.Canonicalize(t, v); err == nil {
			return t, true
		}
	}
	if strings.Contains(v, "://") || strings.Contains(v, "/") {
		if _, err := indicator.Canonicalize(indicator.TypeURL, v); err == nil {
			return indicator.TypeURL, true
		}
	}
	if _, err := indicator.Canonicalize(indicator.TypeDomain, v); err == nil {
		return indicator.TypeDomain, true
	}
	return "", false
}
