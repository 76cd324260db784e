package models

import "time"

// ExternalIDMapping is the Identifier Index's durable row (C2): a
// many-to-one mapping from one normalized external identifier onto a
// gateway PaperID. The composite unique constraint on (paper_id, type)
// bounds each paper to at most one identifier per external scheme, while
// (external_type, external_value) is the primary lookup key.
type ExternalIDMapping struct {
	ExternalType  string    `json:"external_type" gorm:"primaryKey;type:varchar(20);uniqueIndex:idx_paper_type,priority:2"`
	ExternalValue string    `json:"external_value" gorm:"primaryKey;type:varchar(512)"`
	PaperID       string    `json:"paper_id" gorm:"type:varchar(40);not null;index;uniqueIndex:idx_paper_type,priority:1"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ExternalIDMapping) TableName() string { return "external_id_mappings" }

// CitationEdge is the Graph Tier's CITES relationship (C4): CitingPaperID
// cites CitedPaperID. Position records the edge's rank in the citing
// paper's reference list when the upstream payload supplies one.
type CitationEdge struct {
	CitingPaperID string `json:"citing_paper_id" gorm:"primaryKey;type:varchar(40)"`
	CitedPaperID  string `json:"cited_paper_id" gorm:"primaryKey;type:varchar(40)"`
	Position      *int   `json:"position,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (CitationEdge) TableName() string { return "citation_edges" }

// DataChunkType enumerates the segmented payload kinds merged onto a
// paper node independently of its core metadata (C4 merge_data_chunks).
type DataChunkType string

const (
	ChunkCitations     DataChunkType = "citations"
	ChunkReferences    DataChunkType = "references"
	ChunkCitationsPlan DataChunkType = "citations_plan"
)

// DataChunk stores a segmented relation payload (a page of citations or
// references, or the ingest plan tracking how much of it has been
// fetched) separately from the Paper row so repeated segmented fetches
// never require rewriting the paper itself.
type DataChunk struct {
	PaperID   string        `json:"paper_id" gorm:"primaryKey;type:varchar(40)"`
	ChunkType DataChunkType `json:"chunk_type" gorm:"primaryKey;type:varchar(20)"`
	DataJSON  string        `json:"data" gorm:"type:text"`
	UpdatedAt time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

func (DataChunk) TableName() string { return "data_chunks" }

// CitationsIngestPlan is the decoded form of a ChunkCitationsPlan
// DataChunk: how many citation/reference pages the Paper Service has
// fetched so far and how many the upstream reports exist in total,
// letting segmented relation fetch (C8 §4.8.3) resume instead of
// restarting.
type CitationsIngestPlan struct {
	Total       int `json:"total"`
	PageSize    int `json:"page_size"`
	PagesFetched int `json:"pages_fetched"`
}
