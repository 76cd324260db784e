// Package identifier implements the Identifier Model (C1): parsing,
// classifying, and normalizing the external identifier schemes the
// gateway accepts (DOI, ArXiv, PubMed, PMC, MAG, ACL, DBLP, URL,
// CorpusId, PaperId, and the TITLE_NORM fallback).
package identifier

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	gwerrors "scholargate/internal/errors"
)

// Type is one external identifier scheme.
type Type string

const (
	DOI       Type = "DOI"
	ArXiv     Type = "ArXiv"
	CorpusID  Type = "CorpusId"
	MAG       Type = "MAG"
	ACL       Type = "ACL"
	PMID      Type = "PMID"
	PMCID     Type = "PMCID"
	URL       Type = "URL"
	DBLP      Type = "DBLP"
	TitleNorm Type = "TITLE_NORM"
	PaperID   Type = "PaperId"
)

// ExternalID is a classified-and-normalized identifier, ready to key the
// Identifier Index (C2).
type ExternalID struct {
	Type  Type
	Value string
}

// UpstreamQuery renders the identifier in the prefixed form the upstream
// API itself accepts as a paper lookup key (e.g. "DOI:10.1038/x"). A
// PaperId needs no prefix: it is already the upstream's own key space.
func (e *ExternalID) UpstreamQuery() string {
	if e.Type == PaperID {
		return e.Value
	}
	return string(e.Type) + ":" + e.Value
}

var (
	doiPattern   = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
	arxivPattern = regexp.MustCompile(`^(\d{4}\.\d{4,5}|[a-z-]+(\.[A-Za-z]{2})?/\d{7})(v\d+)?$`)
	hexPaperID   = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
	allDigits    = regexp.MustCompile(`^\d+$`)
)

// Parse classifies a raw identifier string, accepting both the
// "TYPE:value" prefixed form and bare values the gateway must sniff, and
// returns a fully normalized ExternalID. Parse is idempotent: normalizing
// an already-normalized value returns the same value.
func Parse(raw string) (*ExternalID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, gwerrors.NewInvalidRequestErr("empty identifier", "raw", raw)
	}

	if t, value, ok := splitPrefixed(raw); ok {
		norm, err := Normalize(t, value)
		if err != nil {
			return nil, err
		}
		return &ExternalID{Type: t, Value: norm}, nil
	}

	t := sniff(raw)
	value, err := Normalize(t, raw)
	if err != nil {
		return nil, err
	}
	return &ExternalID{Type: t, Value: value}, nil
}

// splitPrefixed recognizes "TYPE:value" and returns the matched type case
// insensitively; ok is false when raw carries no known prefix.
func splitPrefixed(raw string) (Type, string, bool) {
	idx := strings.IndexByte(raw, ':')
	if idx <= 0 {
		return "", "", false
	}
	prefix := strings.ToUpper(raw[:idx])
	value := raw[idx+1:]

	known := map[string]Type{
		"DOI": DOI, "ARXIV": ArXiv, "CORPUSID": CorpusID, "MAG": MAG,
		"ACL": ACL, "PMID": PMID, "PMCID": PMCID, "URL": URL, "DBLP": DBLP,
		"PAPERID": PaperID, "TITLE_NORM": TitleNorm,
	}
	t, ok := known[prefix]
	if !ok || value == "" {
		return "", "", false
	}
	return t, value, true
}

// sniff classifies a bare (unprefixed) identifier using the heuristics
// ordered by specificity: URL, DOI, ArXiv, 40-hex PaperId, all-digit
// CorpusId, falling back to TITLE_NORM for anything else (treated as a
// raw title to be resolved by best-effort upstream title search).
func sniff(raw string) Type {
	switch {
	case strings.HasPrefix(strings.ToLower(raw), "http://"), strings.HasPrefix(strings.ToLower(raw), "https://"):
		return URL
	case doiPattern.MatchString(raw), strings.HasPrefix(strings.ToLower(raw), "doi.org/"):
		return DOI
	case arxivPattern.MatchString(stripArxivPrefix(raw)):
		return ArXiv
	case hexPaperID.MatchString(raw):
		return PaperID
	case allDigits.MatchString(raw):
		return CorpusID
	default:
		return TitleNorm
	}
}

func stripArxivPrefix(raw string) string {
	s := raw
	for _, p := range []string{"arXiv:", "arxiv:", "ArXiv:"} {
		s = strings.TrimPrefix(s, p)
	}
	return s
}

// Normalize applies the per-type canonicalization rule, and is safe to
// call twice on its own output (idempotency invariant, spec §8).
func Normalize(t Type, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", gwerrors.NewInvalidRequestErr("empty identifier value", "type", string(t))
	}

	switch t {
	case DOI:
		v := strings.ToLower(value)
		v = strings.TrimPrefix(v, "https://doi.org/")
		v = strings.TrimPrefix(v, "http://doi.org/")
		v = strings.TrimPrefix(v, "doi.org/")
		v = strings.TrimPrefix(v, "doi:")
		if !doiPattern.MatchString(v) {
			return "", gwerrors.NewInvalidRequestErr("malformed DOI", "value", value)
		}
		return v, nil

	case ArXiv:
		v := stripArxivPrefix(value)
		if idx := strings.LastIndexByte(v, 'v'); idx > 0 {
			if _, err := strconv.Atoi(v[idx+1:]); err == nil {
				v = v[:idx]
			}
		}
		if !arxivPattern.MatchString(v) {
			return "", gwerrors.NewInvalidRequestErr("malformed ArXiv id", "value", value)
		}
		return strings.ToLower(v), nil

	case CorpusID, MAG, PMID:
		v := strings.TrimLeft(value, "0")
		if v == "" {
			v = "0"
		}
		if !allDigits.MatchString(v) {
			return "", gwerrors.NewInvalidRequestErr("malformed numeric identifier", "value", value)
		}
		return v, nil

	case PMCID:
		v := strings.ToUpper(value)
		v = strings.TrimPrefix(v, "PMC")
		v = strings.TrimLeft(v, "0")
		if v == "" {
			v = "0"
		}
		if !allDigits.MatchString(v) {
			return "", gwerrors.NewInvalidRequestErr("malformed PMCID", "value", value)
		}
		return "PMC" + v, nil

	case ACL, DBLP, PaperID:
		return strings.ToLower(strings.TrimSpace(value)), nil

	case URL:
		return normalizeURL(value), nil

	case TitleNorm:
		return NormalizeTitle(value), nil

	default:
		return "", gwerrors.NewInvalidRequestErr("unknown identifier type", "type", string(t))
	}
}

// normalizeURL lowercases scheme and host, drops a trailing slash and
// common tracking query parameters, leaving the rest of the URL intact.
func normalizeURL(raw string) string {
	v := strings.TrimSpace(raw)
	lower := strings.ToLower(v)

	schemeEnd := strings.Index(v, "://")
	if schemeEnd < 0 {
		return strings.TrimSuffix(lower, "/")
	}

	rest := v[schemeEnd+3:]
	hostEnd := strings.IndexAny(rest, "/?#")
	host := rest
	tail := ""
	if hostEnd >= 0 {
		host = rest[:hostEnd]
		tail = rest[hostEnd:]
	}

	if q := strings.IndexByte(tail, '?'); q >= 0 {
		path := strings.TrimSuffix(tail[:q], "/")
		query := stripTrackingParams(tail[q+1:])
		if query != "" {
			tail = path + "?" + query
		} else {
			tail = path
		}
	} else {
		tail = strings.TrimSuffix(tail, "/")
	}

	return lower[:schemeEnd+3] + strings.ToLower(host) + tail
}

func stripTrackingParams(query string) string {
	parts := strings.Split(query, "&")
	kept := parts[:0]
	for _, p := range parts {
		key := p
		if idx := strings.IndexByte(p, '='); idx >= 0 {
			key = p[:idx]
		}
		if strings.HasPrefix(key, "utm_") || key == "ref" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}

// NormalizeTitle implements TITLE_NORM (glossary): Unicode NFKD
// decomposition, removal of combining marks and punctuation/symbol
// runes, lowercasing, and whitespace collapse - so "The Café, Revisited!"
// and "the cafe revisited" resolve to the same key.
func NormalizeTitle(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	decomposed, _, err := transform.String(t, title)
	if err != nil {
		decomposed = title
	}

	var b strings.Builder
	lastSpace := true
	for _, r := range decomposed {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastSpace = false
		case unicode.IsSpace(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
