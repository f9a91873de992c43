package indicator

import (
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

var (
	hashPattern   = regexp.MustCompile(`^(?:[a-f0-9]{32}|[a-f0-9]{40}|[a-f0-9]{64}|[a-f0-9]{128})$`)
	cvePattern    = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)
	domainPattern = regexp.MustCompile(`^(?:[a-z0-9_](?:[a-z0-9_-]{0,61}[a-z0-9])?\.)+[a-z0-9-]{2,63}$`)
)

// Key identifies exactly one Indicator record
type Key struct {
	Type  Type
	Value string
}

// String renders the key as "type:value"
func (k Key) String() string {
	return string(k.Type) + ":" + k.Value
}

// NewKey canonicalizes raw and returns its dedup key
func NewKey(t Type, raw string) (Key, error) {
	value, err := Canonicalize(t, raw)
	if err != nil {
		return Key{}, err
	}
	return Key{Type: t, Value: value}, nil
}

// Canonicalize maps equivalent spellings of an observable to one value:
// lowercase hosts and hashes, URLs and domains lose their scheme, IPs are
// re-rendered in their shortest form.
func Canonicalize(t Type, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", fmt.Errorf("empty %s value", t)
	}

	switch t {
	case TypeIP:
		v = strings.Trim(v, "[]")
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return "", fmt.Errorf("invalid ip %q: %w", raw, err)
		}
		return addr.Unmap().String(), nil

	case TypeDomain:
		host := strings.ToLower(v)
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
		if i := strings.IndexAny(host, "/?#"); i >= 0 {
			host = host[:i]
		}
		if h, _, ok := strings.Cut(host, ":"); ok {
			host = h
		}
		host = strings.TrimPrefix(host, "*.")
		host = strings.TrimSuffix(host, ".")
		if !domainPattern.MatchString(host) {
			return "", fmt.Errorf("invalid domain %q", raw)
		}
		return host, nil

	case TypeURL:
		withScheme := v
		if !strings.Contains(v, "://") {
			withScheme = "http://" + v
		}
		u, err := url.Parse(withScheme)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid url %q", raw)
		}
		host := strings.TrimSuffix(strings.ToLower(u.Host), ".")
		switch {
		case strings.HasSuffix(host, ":80") && u.Scheme == "http":
			host = strings.TrimSuffix(host, ":80")
		case strings.HasSuffix(host, ":443") && u.Scheme == "https":
			host = strings.TrimSuffix(host, ":443")
		}
		path := u.EscapedPath()
		if path == "/" {
			path = ""
		}
		out := host + path
		if u.RawQuery != "" {
			out += "?" + u.RawQuery
		}
		return out, nil

	case TypeHash:
		h := strings.ToLower(v)
		if !hashPattern.MatchString(h) {
			return "", fmt.Errorf("invalid hash %q", raw)
		}
		return h, nil

	case TypeCVE:
		c := strings.ToUpper(v)
		if !cvePattern.MatchString(c) {
			return "", fmt.Errorf("invalid cve %q", raw)
		}
		return c, nil
	}

	return "", fmt.Errorf("unsupported indicator type %q", t)
}
