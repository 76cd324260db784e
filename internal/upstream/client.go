// Package upstream implements the Upstream Client (C5): a typed,
// rate-limited wrapper over the remote scholarly-metadata API that
// emulates offset-based pagination the upstream API itself does not
// support, and classifies every transport/HTTP failure into the
// gateway's closed error taxonomy.
package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	gwerrors "scholargate/internal/errors"

	"golang.org/x/time/rate"
)

const (
	userAgent        = "scholargate/1.0"
	maxTotalProbeCap = 10000
)

// DetailedFields mirrors the full field set the Paper Service requests
// for a body fetch; RelationFields is what it requests alongside a
// citations/references page.
var (
	DetailedFields = []string{
		"paperId", "externalIds", "title", "abstract", "authors",
		"venue", "year", "citationCount", "referenceCount",
		"fieldsOfStudy", "publicationTypes", "publicationDate",
		"url", "isOpenAccess", "openAccessPdf",
	}
	RelationFields = []string{"paperId", "title", "authors", "venue", "year", "citationCount"}
)

// Client is the gateway's single handle onto the upstream API, shared
// across requests: one rate limiter and one HTTP transport, matching
// the "one long-lived client handle per backing store" connection
// policy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	classifier *gwerrors.ErrorClassifier
	logger     *slog.Logger
}

// Config configures the Upstream Client's transport and rate limit.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		classifier: gwerrors.NewErrorClassifier(),
		logger:     logger,
	}
}

// GetPaper fetches one paper's body. fields defaults to DetailedFields
// when empty.
func (c *Client) GetPaper(ctx context.Context, id string, fields []string) (*PaperDoc, error) {
	if len(fields) == 0 {
		fields = DetailedFields
	}
	reqURL := fmt.Sprintf("%s/paper/%s?fields=%s", c.baseURL, url.PathEscape(id), strings.Join(fields, ","))

	body, err := c.do(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var doc PaperDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, gwerrors.NewOtherErr("decode paper response", err)
	}
	return &doc, nil
}

// Search emulates offset pagination: the upstream API only accepts a
// limit, so the client requests offset+limit items and slices the tail
// locally.
func (c *Client) Search(ctx context.Context, query string, offset, limit int, fields []string, year, venue, fieldsOfStudy string, matchTitle bool) (*SearchPage, error) {
	if len(fields) == 0 {
		fields = DetailedFields
	}
	endpoint := "/paper/search"
	if matchTitle {
		endpoint = "/paper/search/match"
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(offset+limit))
	params.Set("fields", strings.Join(fields, ","))
	if year != "" {
		params.Set("year", year)
	}
	if venue != "" {
		params.Set("venue", venue)
	}
	if fieldsOfStudy != "" {
		params.Set("fieldsOfStudy", fieldsOfStudy)
	}

	reqURL := c.baseURL + endpoint + "?" + params.Encode()
	body, err := c.do(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var page SearchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, gwerrors.NewOtherErr("decode search response", err)
	}
	return sliceOffset(&page, offset, limit), nil
}

// GetCitations and GetReferences both emulate offset pagination over
// their respective endpoints, probing for a total when the upstream
// page omits one.
func (c *Client) GetCitations(ctx context.Context, id string, offset, limit int, fields []string) (*SearchPage, error) {
	return c.getRelation(ctx, id, "citations", offset, limit, fields)
}

func (c *Client) GetReferences(ctx context.Context, id string, offset, limit int, fields []string) (*SearchPage, error) {
	return c.getRelation(ctx, id, "references", offset, limit, fields)
}

func (c *Client) getRelation(ctx context.Context, id, relation string, offset, limit int, fields []string) (*SearchPage, error) {
	if len(fields) == 0 {
		fields = RelationFields
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(offset+limit))
	params.Set("fields", strings.Join(fields, ","))

	reqURL := fmt.Sprintf("%s/paper/%s/%s?%s", c.baseURL, url.PathEscape(id), relation, params.Encode())
	body, err := c.do(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var page SearchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, gwerrors.NewOtherErr("decode "+relation+" response", err)
	}

	if page.Total == nil {
		if total, err := c.probeTotal(ctx, id, relation); err == nil {
			page.Total = &total
		}
	}

	return sliceOffset(&page, offset, limit), nil
}

// probeTotal issues a single large-limit request (bounded at
// maxTotalProbeCap) to establish how many items a relation has when
// the paginated response itself did not report one.
func (c *Client) probeTotal(ctx context.Context, id, relation string) (int, error) {
	reqURL := fmt.Sprintf("%s/paper/%s/%s?limit=%d&fields=paperId", c.baseURL, url.PathEscape(id), relation, maxTotalProbeCap)
	body, err := c.do(ctx, reqURL)
	if err != nil {
		return 0, err
	}
	var page SearchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return 0, gwerrors.NewOtherErr("decode total probe", err)
	}
	return len(page.Data), nil
}

// BatchGet fetches up to 500 papers in one round trip; entries the
// upstream could not resolve come back nil in the same position.
func (c *Client) BatchGet(ctx context.Context, ids []string, fields []string) ([]*PaperDoc, error) {
	if len(fields) == 0 {
		fields = DetailedFields
	}
	reqURL := fmt.Sprintf("%s/paper/batch?fields=%s", c.baseURL, strings.Join(fields, ","))

	payload, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, gwerrors.NewOtherErr("encode batch request", err)
	}

	body, err := c.doMethod(ctx, http.MethodPost, reqURL, payload)
	if err != nil {
		return nil, err
	}

	var docs []*PaperDoc
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, gwerrors.NewOtherErr("decode batch response", err)
	}
	return docs, nil
}

// Autocomplete returns upstream title-completion suggestions for a
// partial query.
func (c *Client) Autocomplete(ctx context.Context, query string) ([]string, error) {
	reqURL := fmt.Sprintf("%s/paper/autocomplete?query=%s", c.baseURL, url.QueryEscape(query))
	body, err := c.do(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	var suggestions struct {
		Matches []struct {
			Title string `json:"title"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(body, &suggestions); err != nil {
		return nil, gwerrors.NewOtherErr("decode autocomplete response", err)
	}
	out := make([]string, len(suggestions.Matches))
	for i, m := range suggestions.Matches {
		out[i] = m.Title
	}
	return out, nil
}

// AuthorDocFull is the author-detail response shape; separate from the
// embedded AuthorDoc used on papers because it carries profile fields
// the embedded form omits.
type AuthorDocFull struct {
	AuthorID      string   `json:"authorId"`
	Name          string   `json:"name"`
	Affiliations  []string `json:"affiliations"`
	Homepage      string   `json:"homepage"`
	PaperCount    int      `json:"paperCount"`
	CitationCount int      `json:"citationCount"`
	HIndex        int      `json:"hIndex"`
}

func (c *Client) GetAuthor(ctx context.Context, id string, fields []string) (*AuthorDocFull, error) {
	fieldParam := "authorId,name,affiliations,homepage,paperCount,citationCount,hIndex"
	if len(fields) > 0 {
		fieldParam = strings.Join(fields, ",")
	}
	reqURL := fmt.Sprintf("%s/author/%s?fields=%s", c.baseURL, url.PathEscape(id), fieldParam)
	body, err := c.do(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	var doc AuthorDocFull
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, gwerrors.NewOtherErr("decode author response", err)
	}
	return &doc, nil
}

// Proxy performs a transparent pass-through request for the /proxy
// surface, returning the raw upstream body and status code unmodified.
func (c *Client) Proxy(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	reqURL := c.baseURL + "/" + strings.TrimPrefix(path, "/")

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, gwerrors.NewTimeoutErr("proxy", 0)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return 0, nil, gwerrors.NewOtherErr("build proxy request", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, c.classifyTransportErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, gwerrors.NewNetworkErr("read proxy response", err)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) do(ctx context.Context, reqURL string) ([]byte, error) {
	return c.doMethod(ctx, http.MethodGet, reqURL, nil)
}

func (c *Client) doMethod(ctx context.Context, method, reqURL string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, gwerrors.NewTimeoutErr("rate_limit_wait", 0)
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, gwerrors.NewOtherErr("build upstream request", err)
	}
	c.setHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.NewNetworkErr("read upstream response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(respBody, &apiErr)
	return nil, c.classifier.ClassifyHTTPStatus(resp.StatusCode, apiErr.Message)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

func (c *Client) classifyTransportErr(err error) *gwerrors.GatewayError {
	if ctxErr := err; ctxErr != nil && (strings.Contains(ctxErr.Error(), "context deadline exceeded")) {
		return gwerrors.NewTimeoutErr("upstream_request", 0)
	}
	return c.classifier.Classify(err)
}

// sliceOffset applies the emulated-offset slicing: the caller requested
// offset+limit items from upstream, so the local window starting at
// offset is the true page.
func sliceOffset(page *SearchPage, offset, limit int) *SearchPage {
	data := page.Data
	if offset >= len(data) {
		page.Data = nil
	} else {
		end := offset + limit
		if end > len(data) {
			end = len(data)
		}
		page.Data = data[offset:end]
	}
	page.Offset = offset
	return page
}

// GenerateQueryHash produces a stable SHA-256 over the canonicalized
// search parameters, used as the Cache Tier key for a search result
// page. List fields are deduplicated and sorted, and map keys are
// sorted, so equivalent queries always hash identically.
func GenerateQueryHash(query string, offset, limit int, fields []string, year, venue, fieldsOfStudy string, flags map[string]bool) string {
	canon := map[string]interface{}{
		"query":  query,
		"offset": offset,
		"limit":  limit,
		"fields": sortedUnique(fields),
		"year":   year,
		"venue":  venue,
		"fos":    fieldsOfStudy,
	}

	flagKeys := make([]string, 0, len(flags))
	for k := range flags {
		flagKeys = append(flagKeys, k)
	}
	sort.Strings(flagKeys)
	sortedFlags := make(map[string]bool, len(flags))
	for _, k := range flagKeys {
		sortedFlags[k] = flags[k]
	}
	canon["flags"] = sortedFlags

	payload, _ := json.Marshal(canon)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
