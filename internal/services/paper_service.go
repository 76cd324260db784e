package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"context"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"golang.org/x/sync/singleflight"

	"scholargate/internal/cache"
	"scholargate/internal/config"
	gwerrors "scholargate/internal/errors"
	"scholargate/internal/identifier"
	"scholargate/internal/messaging"
	"scholargate/internal/models"
	"scholargate/internal/projector"
	"scholargate/internal/repository"
	"scholargate/internal/upstream"
)

const (
	defaultRelationPageSize = 200
	maxBatchIDs             = 500
)

// PaperService is the Paper Service (C8): the read-through and
// ingestion core. It resolves external identifiers against the
// Identifier Index, serves reads from the Cache Tier and Graph Tier in
// that order, and falls back to the Upstream Client, writing every cold
// fetch back through both tiers before projecting the response through
// the Field Projector.
type PaperService struct {
	repo      repository.Repository
	cacheTier cache.Tier
	upstream  *upstream.Client
	projector *projector.Projector
	queue     *messaging.TaskQueue
	logger    *slog.Logger

	ttls             config.CacheTTLs
	freshness        time.Duration
	relationPageSize int

	fetches singleflight.Group
}

// NewPaperService wires the Paper Service around its four backing
// tiers plus the task queue's enqueue side.
func NewPaperService(
	repo repository.Repository,
	cacheTier cache.Tier,
	upstreamClient *upstream.Client,
	proj *projector.Projector,
	queue *messaging.TaskQueue,
	ttls config.CacheTTLs,
	freshness time.Duration,
	logger *slog.Logger,
) *PaperService {
	return &PaperService{
		repo:             repo,
		cacheTier:        cacheTier,
		upstream:         upstreamClient,
		projector:        proj,
		queue:            queue,
		logger:           logger,
		ttls:             ttls,
		freshness:        freshness,
		relationPageSize: defaultRelationPageSize,
	}
}

func (s *PaperService) graph() repository.GraphRepository           { return s.repo.Graph() }
func (s *PaperService) identifiers() repository.IdentifierRepository { return s.repo.Identifiers() }

// SetQueue backfills the Task Queue's enqueue side once the messaging
// manager has started. The service is constructible without it (queue
// stays nil and every enqueue degrades to the inline fallback per spec
// §4.7) because the manager's handlers must close over the already
// constructed service.
func (s *PaperService) SetQueue(queue *messaging.TaskQueue) {
	s.queue = queue
}

// GetPaper implements get_paper (spec §4.8.1): resolve, cache lookup,
// graph lookup with a freshness gate, and an upstream fetch with
// write-through as a last resort. The returned document is already
// projected through selector.
func (s *PaperService) GetPaper(ctx context.Context, rawID, selector string, disableCache bool) (json.RawMessage, error) {
	normal := s.projector.IsNormal(selector)
	if !normal {
		disableCache = true
	}

	ext, err := identifier.Parse(rawID)
	if err != nil {
		return nil, err
	}

	var resolvedID string
	if disableCache {
		// Per §4.8.1 step 2, a disabled-cache request skips resolve,
		// cache lookup and graph lookup entirely and goes straight to
		// the upstream fetch, keyed by the raw identifier.
	} else {
		resolvedID = s.resolveID(ctx, ext)

		if resolvedID != "" {
			if raw, ok := s.cacheTier.Get(ctx, fullCacheKey(resolvedID)); ok {
				return s.projector.Project(raw, selector)
			}

			if paper, err := s.graph().GetPaper(ctx, resolvedID); err == nil && paper != nil &&
				!paper.IsStale(s.freshness) && paper.RawUpstream != nil {
				raw := json.RawMessage(*paper.RawUpstream)
				s.cacheTier.Set(ctx, fullCacheKey(resolvedID), raw, s.ttls.Metadata)
				return s.projector.Project(raw, selector)
			}
		}
	}

	// Write-through (§4.8.1 step 6f) happens regardless of why the
	// request reached the upstream path: disableCache only bypasses the
	// cache/graph reads above, not the resulting write.
	bodyFields := bodyFieldsFor(selector, normal)
	writeKey := ""
	if normal && resolvedID != "" {
		writeKey = fullCacheKey(resolvedID)
	}
	canonicalWrite := normal && resolvedID == ""

	sfKey := ext.UpstreamQuery() + "|" + strings.Join(bodyFields, ",")
	v, err, _ := s.fetches.Do(sfKey, func() (interface{}, error) {
		return s.fetchAndMerge(ctx, ext.UpstreamQuery(), bodyFields, writeKey, selector, canonicalWrite)
	})
	if err != nil {
		return nil, err
	}
	raw := v.(json.RawMessage)
	return s.projector.Project(raw, selector)
}

// resolveID asks the Identifier Index for the canonical paper_id behind
// ext, returning "" on a miss or lookup failure (identifier-index
// failures are non-fatal per §7).
func (s *PaperService) resolveID(ctx context.Context, ext *identifier.ExternalID) string {
	if ext.Type == identifier.PaperID {
		return ext.Value
	}
	id, err := s.identifiers().Resolve(ctx, string(ext.Type), ext.Value)
	if err != nil {
		s.logger.Warn("identifier resolve failed", slog.String("error", err.Error()))
		return ""
	}
	return id
}

// bodyFieldsFor returns the field set requested for the body fetch: the
// default detailed set, extended with every other token a non-normal
// selector names except bare "citations"/"references" (so e.g. the
// atomic escape-hatch token "embedding.specter_v2" is actually
// retrievable instead of silently dropped).
func bodyFieldsFor(selector string, normal bool) []string {
	if normal {
		return upstream.DetailedFields
	}
	fields := append([]string{}, upstream.DetailedFields...)
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		seen[f] = struct{}{}
	}
	for _, tok := range strings.Split(selector, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" || tok == "citations" || tok == "references" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		fields = append(fields, tok)
	}
	return fields
}

// fetchAndMerge runs the upstream fetch path of §4.8.1 step 6: body
// fetch, segmented reference pagination, write-through to cache and
// graph. writeKey selects the cache key the resulting document is
// stored under. When writeKey is empty the key is derived from the
// fetched paperId: the full-view key if canonicalWrite is set, else the
// selector-keyed entry if selector is non-normal; only an empty writeKey
// with a normal selector and canonicalWrite unset skips the cache write.
func (s *PaperService) fetchAndMerge(ctx context.Context, upstreamQuery string, bodyFields []string, writeKey, selector string, canonicalWrite bool) (json.RawMessage, error) {
	statusKey := taskStatusKey(upstreamQuery)
	s.cacheTier.Set(ctx, statusKey, "processing", s.ttls.TaskStatus)
	defer s.cacheTier.Delete(ctx, statusKey)

	body, err := s.upstream.GetPaper(ctx, upstreamQuery, bodyFields)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, gwerrors.NewNotFoundErr("paper", upstreamQuery)
	}

	refs, err := s.fetchReferencesSegmented(ctx, body.PaperID)
	if err != nil {
		s.logger.Warn("segmented reference fetch failed", slog.String("paper_id", body.PaperID), slog.String("error", err.Error()))
	} else {
		body.References = refs
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, gwerrors.NewInternalErr("encode paper document", err)
	}

	if writeKey == "" && canonicalWrite {
		writeKey = fullCacheKey(body.PaperID)
	}
	if writeKey == "" && !canonicalWrite && !s.projector.IsNormal(selector) {
		writeKey = selectorCacheKey(body.PaperID, selector)
	}
	if writeKey != "" {
		s.cacheTier.Set(ctx, writeKey, raw, s.ttls.Metadata)
	}

	if s.queue == nil || !s.queue.EnqueueGraphMerge(ctx, raw) {
		if _, err := s.upsertFromDoc(ctx, body); err != nil {
			s.logger.Error("inline graph merge failed", slog.String("paper_id", body.PaperID), slog.String("error", err.Error()))
		}
	}

	return raw, nil
}

// fetchReferencesSegmented pages get_references until upstream returns
// an empty page, per §4.8.1 step 6d. Citations are never paged here:
// they are unbounded and fetched only on direct request.
func (s *PaperService) fetchReferencesSegmented(ctx context.Context, paperID string) ([]upstream.PaperDoc, error) {
	var all []upstream.PaperDoc
	offset := 0
	for {
		page, err := s.upstream.GetReferences(ctx, paperID, offset, s.relationPageSize, upstream.RelationFields)
		if err != nil {
			return all, err
		}
		if len(page.Data) == 0 {
			break
		}
		all = append(all, page.Data...)
		offset += len(page.Data)
		if len(page.Data) < s.relationPageSize {
			break
		}
	}
	return all, nil
}

// upsertFromDoc merges a fetched upstream document into the Graph Tier
// and the Identifier Index: the paper row, its authors, and every
// external identifier the upstream payload carries, plus the reference
// edges when present. Graph write failures are logged and non-fatal to
// the caller (§4.8.7).
func (s *PaperService) upsertFromDoc(ctx context.Context, doc *upstream.PaperDoc) (*models.Paper, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, gwerrors.NewInternalErr("encode paper document", err)
	}
	rawStr := string(raw)

	paper := &models.Paper{
		PaperID:          doc.PaperID,
		Title:            doc.Title,
		TitleNorm:        identifier.NormalizeTitle(doc.Title),
		Abstract:         nonEmptyPtr(doc.Abstract),
		Year:             nonZeroPtr(doc.Year),
		Venue:            nonEmptyPtr(doc.Venue),
		ExternalIDs:      doc.ExternalIDs,
		CitationCount:    doc.CitationCount,
		ReferenceCount:   doc.ReferenceCount,
		FieldsOfStudy:    doc.FieldsOfStudy,
		PublicationTypes: doc.PublicationTypes,
		PublicationDate:  parsePublicationDate(doc.PublicationDate),
		IsOpenAccess:     doc.IsOpenAccess,
		URL:              nonEmptyPtr(doc.URL),
		RawUpstream:      &rawStr,
	}
	if doc.OpenAccessPDF != nil {
		paper.OpenAccessPDF = &doc.OpenAccessPDF.URL
	}
	paper.PromoteToFull()

	if len(doc.Authors) > 0 {
		authors := make([]models.Author, 0, len(doc.Authors))
		for _, a := range doc.Authors {
			authors = append(authors, models.Author{ID: a.AuthorID, Name: a.Name})
		}
		stored, err := s.graph().UpsertAuthors(ctx, authors)
		if err != nil {
			s.logger.Warn("author upsert failed", slog.String("paper_id", doc.PaperID), slog.String("error", err.Error()))
		} else {
			paper.Authors = stored
		}
	}

	if err := s.graph().UpsertPaper(ctx, paper); err != nil {
		s.logger.Error("graph merge failed", slog.String("paper_id", doc.PaperID), slog.String("error", err.Error()))
		return paper, err
	}

	for extType, extValue := range doc.ExternalIDs {
		if extValue == "" {
			continue
		}
		if err := s.identifiers().Upsert(ctx, extType, extValue, doc.PaperID); err != nil {
			s.logger.Warn("identifier upsert failed", slog.String("type", extType), slog.String("error", err.Error()))
		}
	}

	if len(doc.References) > 0 {
		edges := make([]models.CitationEdge, 0, len(doc.References))
		for i, ref := range doc.References {
			if ref.PaperID == "" {
				continue
			}
			pos := i
			edges = append(edges, models.CitationEdge{CitedPaperID: ref.PaperID, Position: &pos})
			stubDoc := ref
			if _, err := s.graph().EnsureStub(ctx, ref.PaperID, ref.Title); err != nil {
				s.logger.Warn("reference stub failed", slog.String("ref_id", stubDoc.PaperID), slog.String("error", err.Error()))
			}
		}
		if err := s.graph().PutCitationEdges(ctx, doc.PaperID, edges); err != nil {
			s.logger.Warn("citation edge write failed", slog.String("paper_id", doc.PaperID), slog.String("error", err.Error()))
		}
	}

	return paper, nil
}

// relationView is the shape get_paper_citations/get_paper_references
// return (spec §4.8.2): offset is always present, total is reported
// when a source can supply it without an extra round trip.
type relationView struct {
	Total  *int          `json:"total,omitempty"`
	Offset int           `json:"offset"`
	Data   []interface{} `json:"data"`
}

// GetReferences implements get_paper_references (spec §4.8.2).
func (s *PaperService) GetReferences(ctx context.Context, rawID string, offset, limit int, selector string) (json.RawMessage, error) {
	return s.getRelation(ctx, rawID, true, offset, limit, selector)
}

// GetCitations implements get_paper_citations (spec §4.8.2).
func (s *PaperService) GetCitations(ctx context.Context, rawID string, offset, limit int, selector string) (json.RawMessage, error) {
	return s.getRelation(ctx, rawID, false, offset, limit, selector)
}

func (s *PaperService) getRelation(ctx context.Context, rawID string, outbound bool, offset, limit int, selector string) (json.RawMessage, error) {
	relation := "citations"
	if outbound {
		relation = "references"
	}

	ext, err := identifier.Parse(rawID)
	if err != nil {
		return nil, err
	}
	id := s.resolveID(ctx, ext)

	if id != "" {
		if raw, ok := s.cacheTier.Get(ctx, fullCacheKey(id)); ok {
			if sliced, ok := sliceInlineRelation(raw, relation, offset, limit); ok {
				return sliced, nil
			}
		}

		pageKey := relationCacheKey(id, relation, offset, limit)
		if raw, ok := s.cacheTier.Get(ctx, pageKey); ok {
			return raw, nil
		}

		edges, total, err := s.graph().GetCitationEdges(ctx, id, outbound, limit, offset)
		if err == nil && len(edges) > 0 {
			view := s.buildRelationFromEdges(ctx, id, outbound, edges, int(total), offset)
			raw, err := json.Marshal(view)
			if err == nil {
				s.cacheTier.Set(ctx, pageKey, raw, s.ttls.Metadata)
				return raw, nil
			}
		}
	}

	query := id
	if query == "" {
		query = ext.UpstreamQuery()
	}

	var page *upstream.SearchPage
	if outbound {
		page, err = s.upstream.GetReferences(ctx, query, offset, limit, upstream.RelationFields)
	} else {
		page, err = s.upstream.GetCitations(ctx, query, offset, limit, upstream.RelationFields)
	}
	if err != nil {
		return nil, err
	}

	view := relationView{Offset: offset, Data: make([]interface{}, 0, len(page.Data))}
	if page.Total != nil {
		view.Total = page.Total
	}
	for _, d := range page.Data {
		view.Data = append(view.Data, d)
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return nil, gwerrors.NewInternalErr("encode relation page", err)
	}

	if id != "" {
		s.cacheTier.Set(ctx, relationCacheKey(id, relation, offset, limit), raw, s.ttls.Metadata)
		if outbound {
			edges := make([]models.CitationEdge, 0, len(page.Data))
			for i, d := range page.Data {
				if d.PaperID == "" {
					continue
				}
				pos := offset + i
				edges = append(edges, models.CitationEdge{CitedPaperID: d.PaperID, Position: &pos})
			}
			if len(edges) > 0 {
				if err := s.graph().PutCitationEdges(ctx, id, edges); err != nil {
					s.logger.Warn("citation edge write failed", slog.String("paper_id", id), slog.String("error", err.Error()))
				}
			}
		}
	}

	return raw, nil
}

// buildRelationFromEdges assembles a relation page from graph-tier
// edges, reporting total from the owning paper's citation/reference
// count property when available and falling back to the edge COUNT
// the repository already computed.
func (s *PaperService) buildRelationFromEdges(ctx context.Context, id string, outbound bool, edges []models.CitationEdge, edgeTotal, offset int) relationView {
	total := edgeTotal
	if owner, err := s.graph().GetPaper(ctx, id); err == nil && owner != nil {
		if outbound && owner.ReferenceCount > 0 {
			total = owner.ReferenceCount
		} else if !outbound && owner.CitationCount > 0 {
			total = owner.CitationCount
		}
	}

	view := relationView{Total: &total, Offset: offset, Data: make([]interface{}, 0, len(edges))}
	for _, e := range edges {
		otherID := e.CitedPaperID
		if !outbound {
			otherID = e.CitingPaperID
		}
		item := map[string]interface{}{"paperId": otherID}
		if other, err := s.graph().GetPaper(ctx, otherID); err == nil && other != nil {
			item["title"] = other.Title
			item["year"] = other.Year
			item["venue"] = other.Venue
			item["citationCount"] = other.CitationCount
		}
		view.Data = append(view.Data, item)
	}
	return view
}

// sliceInlineRelation serves step 1 of §4.8.2: when the cached full
// document already has the relation inlined (a segmented body fetch
// populated it), slice it directly instead of touching the graph or
// upstream.
func sliceInlineRelation(raw json.RawMessage, field string, offset, limit int) (json.RawMessage, bool) {
	v, err := oj.Parse(raw)
	if err != nil {
		return nil, false
	}
	path, err := jp.ParseString(field)
	if err != nil {
		return nil, false
	}
	vals := path.Get(v)
	if len(vals) == 0 {
		return nil, false
	}
	arr, ok := vals[0].([]interface{})
	if !ok {
		return nil, false
	}

	total := len(arr)
	var slice []interface{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		slice = arr[offset:end]
	}
	out, err := json.Marshal(relationView{Total: &total, Offset: offset, Data: slice})
	if err != nil {
		return nil, false
	}
	return out, true
}

// SearchPapers implements search_papers (spec §4.8.3).
func (s *PaperService) SearchPapers(ctx context.Context, query string, offset, limit int, selector, year, venue, fieldsOfStudy string, matchTitle, preferLocal, fallbackToS2 bool) (json.RawMessage, error) {
	flags := map[string]bool{"match_title": matchTitle, "prefer_local": preferLocal, "fallback_to_s2": fallbackToS2}
	hash := upstream.GenerateQueryHash(query, offset, limit, upstream.DetailedFields, year, venue, fieldsOfStudy, flags)
	cacheKey := searchCacheKey(hash)

	if raw, ok := s.cacheTier.Get(ctx, cacheKey); ok {
		s.warmTopN(ctx, raw, 3)
		return raw, nil
	}

	if preferLocal {
		filter := &models.PaperFilter{Venue: venue}
		papers, total, err := s.graph().SearchPapers(ctx, query, filter, nil, limit, offset)
		if err == nil && len(papers) > 0 {
			raw, err := s.buildSearchResponseFromGraph(papers, int(total), offset)
			if err == nil {
				s.cacheTier.Set(ctx, cacheKey, raw, s.ttls.Search)
				return raw, nil
			}
		}
	}

	if !fallbackToS2 {
		raw, _ := json.Marshal(searchResponse{Total: 0, Offset: offset, Papers: []json.RawMessage{}, Data: []json.RawMessage{}})
		return raw, nil
	}

	page, err := s.upstream.Search(ctx, query, offset, limit, upstream.DetailedFields, year, venue, fieldsOfStudy, matchTitle)
	if err != nil {
		return nil, err
	}

	docs := make([]json.RawMessage, 0, len(page.Data))
	for i := range page.Data {
		d, err := json.Marshal(page.Data[i])
		if err != nil {
			continue
		}
		docs = append(docs, d)
	}
	total := offset + len(page.Data)
	if page.Total != nil {
		total = *page.Total
	}
	raw, err := json.Marshal(searchResponse{Total: total, Offset: offset, Papers: docs, Data: docs})
	if err != nil {
		return nil, gwerrors.NewInternalErr("encode search response", err)
	}

	s.cacheTier.Set(ctx, cacheKey, raw, s.ttls.Search)

	top := page.Data
	if len(top) > 3 {
		top = top[:3]
	}
	if s.queue != nil {
		for _, d := range top {
			s.queue.EnqueueFetchFromS2(ctx, d.PaperID, nil)
		}
	}

	return raw, nil
}

type searchResponse struct {
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Papers []json.RawMessage `json:"papers"`
	Data   []json.RawMessage `json:"data"`
}

func (s *PaperService) buildSearchResponseFromGraph(papers []models.Paper, total, offset int) (json.RawMessage, error) {
	docs := make([]json.RawMessage, 0, len(papers))
	for i := range papers {
		raw, err := s.paperRaw(&papers[i])
		if err != nil {
			continue
		}
		docs = append(docs, raw)
	}
	return json.Marshal(searchResponse{Total: total, Offset: offset, Papers: docs, Data: docs})
}

// paperRaw returns a paper's canonical wire-shaped document: its last
// fetched upstream payload when present, or a document assembled from
// the flattened graph columns for a paper never fully fetched.
func (s *PaperService) paperRaw(p *models.Paper) (json.RawMessage, error) {
	if p.RawUpstream != nil && *p.RawUpstream != "" {
		return json.RawMessage(*p.RawUpstream), nil
	}
	doc := &upstream.PaperDoc{
		PaperID:          p.PaperID,
		ExternalIDs:      p.ExternalIDs,
		Title:            p.Title,
		Abstract:         derefStr(p.Abstract),
		Venue:            derefStr(p.Venue),
		Year:             derefInt(p.Year),
		CitationCount:    p.CitationCount,
		ReferenceCount:   p.ReferenceCount,
		FieldsOfStudy:    p.FieldsOfStudy,
		PublicationTypes: p.PublicationTypes,
		PublicationDate:  formatPublicationDate(p.PublicationDate),
		URL:              derefStr(p.URL),
		IsOpenAccess:     p.IsOpenAccess,
	}
	if p.OpenAccessPDF != nil {
		doc.OpenAccessPDF = &upstream.OpenAccessPDFDoc{URL: *p.OpenAccessPDF}
	}
	for _, a := range p.Authors {
		doc.Authors = append(doc.Authors, upstream.AuthorDoc{AuthorID: a.ID, Name: a.Name})
	}
	return json.Marshal(doc)
}

// warmTopN enqueues a background refresh of the top n paper IDs in a
// cached search response (§4.8.3 step 2), best-effort.
func (s *PaperService) warmTopN(ctx context.Context, raw json.RawMessage, n int) {
	if s.queue == nil {
		return
	}
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}
	for i, doc := range resp.Papers {
		if i >= n {
			break
		}
		var id struct {
			PaperID string `json:"paperId"`
		}
		if json.Unmarshal(doc, &id) == nil && id.PaperID != "" {
			s.queue.EnqueueFetchFromS2(ctx, id.PaperID, nil)
		}
	}
}

// GetPapersBatch implements get_papers_batch (spec §4.8.4): cache,
// graph, then upstream batch_get for whatever remains, preserving
// input order with nulls for unresolved entries.
func (s *PaperService) GetPapersBatch(ctx context.Context, rawIDs []string, selector string, disableCache bool) ([]json.RawMessage, error) {
	if len(rawIDs) > maxBatchIDs {
		return nil, gwerrors.NewInvalidRequestErr("batch too large", "ids", len(rawIDs))
	}

	normal := s.projector.IsNormal(selector)
	results := make([]json.RawMessage, len(rawIDs))
	resolved := make([]string, len(rawIDs))
	exts := make([]*identifier.ExternalID, len(rawIDs))
	var stillMissing []int

	for i, raw := range rawIDs {
		ext, err := identifier.Parse(raw)
		if err != nil {
			continue
		}
		exts[i] = ext
		id := s.resolveID(ctx, ext)
		resolved[i] = id

		if !disableCache && normal && id != "" {
			if raw, ok := s.cacheTier.Get(ctx, fullCacheKey(id)); ok {
				if proj, err := s.projector.Project(raw, selector); err == nil {
					results[i] = proj
					continue
				}
			}
		}
		stillMissing = append(stillMissing, i)
	}

	var upstreamMissing []int
	for _, i := range stillMissing {
		id := resolved[i]
		if id == "" {
			upstreamMissing = append(upstreamMissing, i)
			continue
		}
		paper, err := s.graph().GetPaper(ctx, id)
		if err != nil || paper == nil || paper.IsStale(s.freshness) || paper.RawUpstream == nil {
			upstreamMissing = append(upstreamMissing, i)
			continue
		}
		raw := json.RawMessage(*paper.RawUpstream)
		if !disableCache {
			s.cacheTier.Set(ctx, fullCacheKey(id), raw, s.ttls.Metadata)
		}
		proj, err := s.projector.Project(raw, selector)
		if err != nil {
			upstreamMissing = append(upstreamMissing, i)
			continue
		}
		results[i] = proj
	}

	if len(upstreamMissing) == 0 {
		return results, nil
	}

	queries := make([]string, 0, len(upstreamMissing))
	for _, i := range upstreamMissing {
		if exts[i] == nil {
			queries = append(queries, rawIDs[i])
			continue
		}
		queries = append(queries, exts[i].UpstreamQuery())
	}

	docs, err := s.upstream.BatchGet(ctx, queries, upstream.DetailedFields)
	if err != nil {
		s.logger.Warn("batch upstream fetch failed", slog.String("error", err.Error()))
		return results, nil
	}

	for j, doc := range docs {
		if j >= len(upstreamMissing) {
			break
		}
		i := upstreamMissing[j]
		if doc == nil {
			continue
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			continue
		}
		if !disableCache {
			s.cacheTier.Set(ctx, fullCacheKey(doc.PaperID), raw, s.ttls.Metadata)
		}
		if s.queue == nil || !s.queue.EnqueueGraphMerge(ctx, raw) {
			if _, err := s.upsertFromDoc(ctx, doc); err != nil {
				s.logger.Warn("inline graph merge failed", slog.String("paper_id", doc.PaperID), slog.String("error", err.Error()))
			}
		}
		proj, err := s.projector.Project(raw, selector)
		if err != nil {
			continue
		}
		results[i] = proj
	}

	return results, nil
}

// ClearCache implements clear_cache (spec §4.8.5): delete every cached
// view of a paper.
func (s *PaperService) ClearCache(ctx context.Context, rawID string) error {
	ext, err := identifier.Parse(rawID)
	if err != nil {
		return err
	}
	id := s.resolveID(ctx, ext)
	if id == "" {
		id = ext.Value
	}
	s.cacheTier.DeleteByPattern(ctx, "paper:"+id+":")
	return nil
}

// WarmCache implements warm_cache (spec §4.8.5): an unconditional
// upstream fetch and write-through, bypassing every read tier.
func (s *PaperService) WarmCache(ctx context.Context, rawID, selector string) error {
	ext, err := identifier.Parse(rawID)
	if err != nil {
		return err
	}
	normal := s.projector.IsNormal(selector)
	bodyFields := bodyFieldsFor(selector, normal)
	_, err = s.fetchAndMerge(ctx, ext.UpstreamQuery(), bodyFields, "", selector, normal)
	return err
}

// Health reports whether the service's required dependencies are
// reachable enough to serve requests; the cache and queue are
// best-effort and never fail this check.
func (s *PaperService) Health(ctx context.Context) error {
	if s.repo == nil {
		return fmt.Errorf("repository not initialized")
	}
	if s.upstream == nil {
		return fmt.Errorf("upstream client not initialized")
	}
	return s.repo.Ping(ctx)
}

// HandleFetchFromS2 is the Task Queue's fetch_from_s2 job handler: fetch
// paperID from upstream and write it through cache and graph exactly as
// a cold get_paper would.
func (s *PaperService) HandleFetchFromS2(ctx context.Context, job messaging.FetchFromS2Job) error {
	ext := identifier.ExternalID{Type: identifier.PaperID, Value: job.PaperID}
	fields := job.Fields
	if len(fields) == 0 {
		fields = upstream.DetailedFields
	}
	_, err := s.fetchAndMerge(ctx, ext.UpstreamQuery(), fields, fullCacheKey(job.PaperID), "", true)
	return err
}

// HandleGraphMerge is the Task Queue's graph_merge job handler: merge an
// already-fetched document into the graph tier without re-fetching it.
func (s *PaperService) HandleGraphMerge(ctx context.Context, job messaging.GraphMergeJob) error {
	var doc upstream.PaperDoc
	if err := json.Unmarshal(job.FullDoc, &doc); err != nil {
		return gwerrors.NewInvalidRequestErr("malformed graph_merge payload", "full_doc", err.Error())
	}
	_, err := s.upsertFromDoc(ctx, &doc)
	return err
}

// HandleSetCache is the Task Queue's set_cache job handler.
func (s *PaperService) HandleSetCache(ctx context.Context, job messaging.SetCacheJob) error {
	key := fullCacheKey(job.PaperID)
	if len(job.Fields) > 0 {
		key = selectorCacheKey(job.PaperID, strings.Join(job.Fields, ","))
	}
	if !s.cacheTier.Set(ctx, key, job.Doc, s.ttls.Metadata) {
		return gwerrors.NewCacheErr("set_cache", fmt.Errorf("cache set failed"))
	}
	return nil
}

func fullCacheKey(id string) string { return "paper:" + id + ":full" }

func selectorCacheKey(id, selector string) string {
	sum := sha256.Sum256([]byte(selector))
	return "paper:" + id + ":sel:" + hex.EncodeToString(sum[:8])
}

func taskStatusKey(key string) string { return "task:" + key + ":status" }

func relationCacheKey(id, relation string, offset, limit int) string {
	return fmt.Sprintf("paper:%s:%s:%d:%d", id, relation, offset, limit)
}

func searchCacheKey(hash string) string { return "search:" + hash }

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonZeroPtr(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// parsePublicationDate parses the upstream API's "YYYY-MM-DD" date
// string into a time.Time, leaving it nil when absent or malformed
// (publication date is a display convenience, never load-bearing).
func parsePublicationDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func formatPublicationDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
