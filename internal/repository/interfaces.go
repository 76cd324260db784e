package repository

import (
	"context"
	"time"

	"scholargate/internal/models"
)

// GraphRepository is the Graph Tier's storage contract (C4): the durable
// relational view over papers, their authors, and the CITES edges between
// them, plus the segmented data chunks (citations/references pages and
// their ingest plan) merged onto a paper independently of its core row.
type GraphRepository interface {
	// GetPaper returns the stored paper node, or gorm.ErrRecordNotFound
	// wrapped as a NotFound GatewayError if no such node exists yet.
	GetPaper(ctx context.Context, paperID string) (*models.Paper, error)

	// UpsertPaper writes a fetched-or-stubbed paper node. Per the
	// never-demote invariant, implementations must refuse to overwrite
	// an existing full node's IngestStatus back to stub.
	UpsertPaper(ctx context.Context, paper *models.Paper) error

	// EnsureStub creates a bare stub node for paperID if none exists,
	// used when a citation edge names an endpoint the gateway has not
	// yet fetched (C4 ensure_stub).
	EnsureStub(ctx context.Context, paperID, title string) (*models.Paper, error)

	// SearchPapers runs a filtered, sorted, paginated query over the
	// relational store (C4 search_papers), using full-text search where
	// the underlying dialect supports it and a LIKE fallback otherwise.
	SearchPapers(ctx context.Context, query string, filter *models.PaperFilter, sort *models.PaperSort, limit, offset int) ([]models.Paper, int64, error)

	// PutCitationEdges replaces the CITES edges for citingPaperID with
	// edges, creating stub nodes for any cited paper not yet known.
	PutCitationEdges(ctx context.Context, citingPaperID string, edges []models.CitationEdge) error

	// GetCitationEdges returns the CITES edges outbound from paperID
	// (its references) or inbound to it (its citations), depending on
	// outbound.
	GetCitationEdges(ctx context.Context, paperID string, outbound bool, limit, offset int) ([]models.CitationEdge, int64, error)

	// GetDataChunk fetches one segmented relation payload for a paper,
	// returning nil, nil when absent rather than an error.
	GetDataChunk(ctx context.Context, paperID string, chunkType models.DataChunkType) (*models.DataChunk, error)

	// PutDataChunk upserts a segmented relation payload (C4
	// merge_data_chunks).
	PutDataChunk(ctx context.Context, chunk *models.DataChunk) error

	// UpsertAuthors writes (or updates) a batch of authors and returns
	// them keyed by the identity GORM resolved for each - a new row for
	// an unseen author, the existing row when a match was found by ID.
	UpsertAuthors(ctx context.Context, authors []models.Author) ([]models.Author, error)

	// GetAuthor returns a single author by ID.
	GetAuthor(ctx context.Context, authorID string) (*models.Author, error)
}

// IdentifierRepository is the Identifier Index's storage contract (C2):
// a durable many-to-one mapping from normalized external identifiers
// onto gateway PaperIDs.
type IdentifierRepository interface {
	// Resolve looks up the PaperID mapped to one normalized external
	// identifier, returning ("", nil) when no mapping exists.
	Resolve(ctx context.Context, externalType, externalValue string) (string, error)

	// Upsert atomically maps (externalType, externalValue) onto
	// paperID. Per the Identifier Index's uniqueness invariant, a
	// second upsert for the same (paperID, externalType) pair
	// overwrites the prior value rather than producing two rows.
	Upsert(ctx context.Context, externalType, externalValue, paperID string) error

	// ListForPaper returns every known identifier mapped to paperID,
	// used to populate Paper.ExternalIDs at merge time.
	ListForPaper(ctx context.Context, paperID string) ([]models.ExternalIDMapping, error)
}

// Repository aggregates the gateway's storage interfaces behind a single
// composition root so services depend on one handle regardless of how
// many underlying tables back it.
type Repository interface {
	Graph() GraphRepository
	Identifiers() IdentifierRepository

	Transaction(ctx context.Context, fn func(Repository) error) error

	Ping(ctx context.Context) error
	Close() error
	GetStats() (map[string]interface{}, error)
}

// GraphStats summarizes the Graph Tier's current population. No
// repository method, handler or transport in this module fills it in.
type GraphStats struct {
	TotalPapers   int64     `json:"total_papers"`
	FullPapers    int64     `json:"full_papers"`
	StubPapers    int64     `json:"stub_papers"`
	TotalAuthors  int64     `json:"total_authors"`
	TotalEdges    int64     `json:"total_citation_edges"`
	OldestUpdate  time.Time `json:"oldest_update,omitempty"`
}
