package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
)

// ProviderOTX is the provider key for AlienVault OTX style pulse feeds
const ProviderOTX = "otx"

const (
	otxDefaultPulseReputation = -5
	otxMaxReputation          = 10
)

// OTXAdapter reads subscribed pulses and indicator details from an OTX API
type OTXAdapter struct {
	sourceID        string
	name            string
	baseURL         string
	defaultCategory string
	pulseReputation int
	http            *httpClient
	logger          *logger.Logger
}

// otxPulse mirrors the subset of the OTX pulse object we read
type otxPulse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	AuthorName      string         `json:"author_name"`
	Tags            []string       `json:"tags"`
	Created         string         `json:"created"`
	Modified        string         `json:"modified"`
	Adversary       string         `json:"adversary"`
	MalwareFamilies []otxNamedItem `json:"malware_families"`
	Indicators      []otxIndicator `json:"indicators"`
}

type otxNamedItem struct {
	DisplayName string `json:"display_name"`
}

// UnmarshalJSON accepts both plain strings and objects for malware families
func (n *otxNamedItem) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n.DisplayName = s
		return nil
	}
	type alias otxNamedItem
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = otxNamedItem(a)
	return nil
}

type otxIndicator struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"`
	Created   string `json:"created"`
	Title     string `json:"title"`
	Role      string `json:"role"`
}

type otxPulseList struct {
	Results []json.RawMessage `json:"results"`
	Next    *string           `json:"next"`
}

// otxGeneral mirrors /api/v1/indicators/{section}/{value}/general
type otxGeneral struct {
	Indicator  string `json:"indicator"`
	Type       string `json:"type"`
	Reputation int    `json:"reputation"`
	PulseInfo  struct {
		Count  int `json:"count"`
		Pulses []struct {
			Name     string   `json:"name"`
			Tags     []string `json:"tags"`
			Created  string   `json:"created"`
			Modified string   `json:"modified"`
		} `json:"pulses"`
	} `json:"pulse_info"`
}

// NewOTXAdapter builds an adapter for an OTX source. The source endpoint
// overrides the configured base URL; the credential reference resolves to the
// X-OTX-API-KEY header. Option "pulse_reputation" sets the score given to pulse
// members.
func NewOTXAdapter(src *source.Source, opts Options) (Adapter, error) {
	apiKey, err := ResolveCredential(src.CredentialRef)
	if err != nil {
		return nil, err
	}

	base := src.Endpoint
	if base == "" {
		base = opts.OTXBaseURL
	}
	if base == "" {
		return nil, fmt.Errorf("otx source %s has no endpoint", src.Name)
	}

	rep := otxDefaultPulseReputation
	if raw, ok := src.Options["pulse_reputation"]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid pulse_reputation %q: %w", raw, err)
		}
		rep = v
	}

	headers := map[string]string{}
	if apiKey != "" {
		headers["X-OTX-API-KEY"] = apiKey
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &OTXAdapter{
		sourceID:        src.ID,
		name:            src.Name,
		baseURL:         strings.TrimRight(base, "/"),
		defaultCategory: categoryForFeed(src.FeedType),
		pulseReputation: rep,
		http:            newHTTPClient(src.Name, opts, headers),
		logger:          log.WithFields(map[string]interface{}{"adapter": ProviderOTX, "source": src.Name}),
	}, nil
}

// Name returns the source name
func (a *OTXAdapter) Name() string {
	return a.name
}

// FetchLatest returns up to limit subscribed pulses, newest first
func (a *OTXAdapter) FetchLatest(ctx context.Context, limit int) ([]RawRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	endpoint := fmt.Sprintf("%s/api/v1/pulses/subscribed?limit=%d&page=1", a.baseURL, limit)
	return a.fetchPulses(ctx, endpoint, limit)
}

// SearchByQuery returns pulses matching a free-text query
func (a *OTXAdapter) SearchByQuery(ctx context.Context, query string) ([]RawRecord, error) {
	endpoint := fmt.Sprintf("%s/api/v1/search/pulses?q=%s&limit=20", a.baseURL, url.QueryEscape(query))
	return a.fetchPulses(ctx, endpoint, 0)
}

// GetDetails returns the general section for one indicator
func (a *OTXAdapter) GetDetails(ctx context.Context, value string, kind indicator.Type) (RawRecord, error) {
	section, err := otxSection(kind, value)
	if err != nil {
		return RawRecord{}, apperrors.Normalization("unsupported lookup", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/indicators/%s/%s/general", a.baseURL, section, url.PathEscape(value))
	body, err := a.http.get(ctx, endpoint)
	if err != nil {
		return RawRecord{}, err
	}

	return RawRecord{
		Kind:       RecordIndicator,
		ExternalID: value,
		Payload:    json.RawMessage(body),
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (a *OTXAdapter) fetchPulses(ctx context.Context, endpoint string, limit int) ([]RawRecord, error) {
	body, err := a.http.get(ctx, endpoint)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.SourceUnavailable(a.name, fmt.Errorf("endpoint %s not found", endpoint))
	}
	if err != nil {
		return nil, err
	}

	var list otxPulseList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, apperrors.SourceUnavailable(a.name, fmt.Errorf("unreadable pulse list: %w", err))
	}

	fetchedAt := time.Now().UTC()
	records := make([]RawRecord, 0, len(list.Results))
	for _, raw := range list.Results {
		if limit > 0 && len(records) >= limit {
			break
		}
		var head struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &head)
		records = append(records, RawRecord{
			Kind:       RecordPulse,
			ExternalID: head.ID,
			Payload:    raw,
			FetchedAt:  fetchedAt,
		})
	}

	a.logger.WithFields(map[string]interface{}{
		"records": len(records),
	}).Debug("Fetched OTX pulses")

	return records, nil
}

// Normalize maps a pulse or an indicator general record to observations
func (a *OTXAdapter) Normalize(raw RawRecord) (Normalized, error) {
	switch raw.Kind {
	case RecordPulse:
		return a.normalizePulse(raw)
	case RecordIndicator:
		return a.normalizeGeneral(raw)
	default:
		return Normalized{}, apperrors.Normalization("unknown record kind", fmt.Errorf("%q", raw.Kind))
	}
}

func (a *OTXAdapter) normalizePulse(raw RawRecord) (Normalized, error) {
	var p otxPulse
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return Normalized{}, apperrors.Normalization("malformed otx pulse", err)
	}
	if p.ID == "" || p.Name == "" {
		return Normalized{}, apperrors.Normalization("malformed otx pulse", fmt.Errorf("pulse without id or name"))
	}

	modified := parseOTXTime(p.Modified, parseOTXTime(p.Created, raw.FetchedAt))

	category := a.defaultCategory
	if len(p.MalwareFamilies) > 0 {
		category = indicator.CategoryMalware
	}

	tags := append([]string(nil), p.Tags...)
	for _, fam := range p.MalwareFamilies {
		if fam.DisplayName != "" {
			tags = append(tags, fam.DisplayName)
		}
	}
	if p.Adversary != "" {
		tags = append(tags, p.Adversary)
	}
	tags = indicator.MergeStrings(tags, nil)

	out := Normalized{
		Pulse: &indicator.Pulse{
			SourceID:   a.sourceID,
			ExternalID: p.ID,
			Name:       p.Name,
			Author:     p.AuthorName,
			Tags:       tags,
		},
	}

	for _, item := range p.Indicators {
		typ, ok := otxTypeMap[item.Type]
		if !ok {
			out.Skipped = append(out.Skipped, apperrors.Normalization("unsupported otx indicator type",
				fmt.Errorf("%s %q", item.Type, item.Indicator)))
			continue
		}
		key, err := indicator.NewKey(typ, item.Indicator)
		if err != nil {
			out.Skipped = append(out.Skipped, apperrors.Normalization("invalid otx indicator", err))
			continue
		}
		first := parseOTXTime(item.Created, modified)
		last := modified
		if first.After(last) {
			last = first
		}
		out.Observations = append(out.Observations, indicator.Observation{
			Type:       typ,
			Value:      item.Indicator,
			Reputation: a.pulseReputation,
			Category:   category,
			FirstSeen:  first,
			LastSeen:   last,
			Tags:       tags,
			Campaign:   p.Name,
		})
		out.Pulse.IndicatorKeys = append(out.Pulse.IndicatorKeys, key.String())
	}

	return out, nil
}

func (a *OTXAdapter) normalizeGeneral(raw RawRecord) (Normalized, error) {
	var g otxGeneral
	if err := json.Unmarshal(raw.Payload, &g); err != nil {
		return Normalized{}, apperrors.Normalization("malformed otx indicator", err)
	}
	typ, ok := otxTypeMap[g.Type]
	if !ok || g.Indicator == "" {
		return Normalized{}, apperrors.Normalization("malformed otx indicator",
			fmt.Errorf("type %q value %q", g.Type, g.Indicator))
	}

	// Pulse membership is the malicious signal; OTX's own reputation field is
	// positive for bad IPs, so it is negated.
	rep := -g.Reputation
	if g.PulseInfo.Count > 0 {
		rep = -min(otxMaxReputation, 3+g.PulseInfo.Count)
	}
	rep = max(-otxMaxReputation, min(otxMaxReputation, rep))

	seen := raw.FetchedAt
	var tags []string
	campaign := ""
	for i, p := range g.PulseInfo.Pulses {
		if i == 0 {
			campaign = p.Name
		}
		tags = append(tags, p.Tags...)
		if t := parseOTXTime(p.Modified, time.Time{}); !t.IsZero() && t.Before(seen) {
			seen = t
		}
	}

	return Normalized{
		Observations: []indicator.Observation{{
			Type:       typ,
			Value:      g.Indicator,
			Reputation: rep,
			Category:   a.defaultCategory,
			FirstSeen:  seen,
			LastSeen:   raw.FetchedAt,
			Tags:       indicator.MergeStrings(tags, nil),
			Campaign:   campaign,
		}},
	}, nil
}

var otxTypeMap = map[string]indicator.Type{
	"IPv4":            indicator.TypeIP,
	"IPv6":            indicator.TypeIP,
	"domain":          indicator.TypeDomain,
	"hostname":        indicator.TypeDomain,
	"URL":             indicator.TypeURL,
	"URI":             indicator.TypeURL,
	"FileHash-MD5":    indicator.TypeHash,
	"FileHash-SHA1":   indicator.TypeHash,
	"FileHash-SHA256": indicator.TypeHash,
	"FileHash-SHA512": indicator.TypeHash,
	"CVE":             indicator.TypeCVE,
}

func otxSection(kind indicator.Type, value string) (string, error) {
	switch kind {
	case indicator.TypeIP:
		addr, err := netip.ParseAddr(strings.TrimSpace(value))
		if err != nil {
			return "", err
		}
		if addr.Is4() || addr.Is4In6() {
			return "IPv4", nil
		}
		return "IPv6", nil
	case indicator.TypeDomain:
		return "domain", nil
	case indicator.TypeURL:
		return "url", nil
	case indicator.TypeHash:
		return "file", nil
	case indicator.TypeCVE:
		return "cve", nil
	}
	return "", fmt.Errorf("no otx section for %q", kind)
}

var otxTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseOTXTime reads OTX timestamps, which usually omit the zone (UTC)
func parseOTXTime(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	for _, layout := range otxTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func categoryForFeed(ft source.FeedType) string {
	switch ft {
	case source.FeedTypeMalware:
		return indicator.CategoryMalware
	case source.FeedTypeVulnerability:
		return indicator.CategoryVulnerability
	case source.FeedTypeReputation:
		return indicator.CategoryReputation
	default:
		return indicator.CategoryIOC
	}
}
