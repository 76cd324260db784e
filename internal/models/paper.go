package models

import (
	"time"

	"gorm.io/gorm"
)

// IngestStatus tracks how completely a paper node has been populated.
// A stub is created eagerly (e.g. as a citation-edge endpoint) before the
// full upstream record has been fetched; once fetched, the stub is
// promoted to full and never demoted back, per the Graph Tier's
// never-demote invariant (C4).
type IngestStatus string

const (
	IngestStub IngestStatus = "stub"
	IngestFull IngestStatus = "full"
)

// Paper is the Graph Tier's durable node for a scholarly work (C4). It is
// populated either by an Upstream Client fetch (full) or created as a
// bare placeholder when discovered as someone else's citation edge
// (stub).
type Paper struct {
	// PaperID is the opaque 40-character hex paperId the upstream API
	// assigns to the work (spec §3); the Identifier Index maps external
	// schemes onto it.
	PaperID string `json:"paper_id" gorm:"primaryKey;type:varchar(40)" validate:"required,len=40"`

	Title     string  `json:"title" gorm:"type:text;not null"`
	TitleNorm string  `json:"-" gorm:"type:text;index"`
	Abstract  *string `json:"abstract,omitempty" gorm:"type:text"`
	Year      *int    `json:"year,omitempty" gorm:"index"`
	Venue     *string `json:"venue,omitempty" gorm:"type:varchar(500)"`

	Authors []Author `json:"authors" gorm:"many2many:paper_authors;"`

	// ExternalIDs mirrors the resolved identifiers known for this paper
	// at last merge - a denormalized read convenience over the
	// Identifier Index (C2), which remains the source of truth for
	// lookup.
	ExternalIDs map[string]string `json:"external_ids" gorm:"serializer:json"`

	CitationCount  int `json:"citation_count" gorm:"default:0;index"`
	ReferenceCount int `json:"reference_count" gorm:"default:0"`

	FieldsOfStudy    []string `json:"fields_of_study,omitempty" gorm:"serializer:json"`
	PublicationTypes []string `json:"publication_types,omitempty" gorm:"serializer:json"`
	PublicationDate  *time.Time `json:"publication_date,omitempty" gorm:"index"`

	IsOpenAccess  bool    `json:"is_open_access" gorm:"default:false"`
	OpenAccessPDF *string `json:"open_access_pdf,omitempty" gorm:"type:varchar(2048)"`
	URL           *string `json:"url,omitempty" gorm:"type:varchar(2048)"`

	// RawUpstream is the verbatim last-fetched upstream JSON payload,
	// kept so the Field Projector (C6) can serve fields the flattened
	// columns above don't carry without a second upstream round trip.
	RawUpstream *string `json:"-" gorm:"type:text"`

	IngestStatus IngestStatus `json:"ingest_status" gorm:"type:varchar(10);default:'stub';index"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime;index"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Paper) TableName() string { return "papers" }

func (p *Paper) BeforeCreate(tx *gorm.DB) error {
	if p.IngestStatus == "" {
		p.IngestStatus = IngestStub
	}
	return nil
}

// IsFull reports whether this node has been populated from an upstream
// fetch, as opposed to existing only as a citation-edge stub.
func (p *Paper) IsFull() bool { return p.IngestStatus == IngestFull }

// IsStub reports the inverse of IsFull.
func (p *Paper) IsStub() bool { return p.IngestStatus == IngestStub }

// PromoteToFull marks the node fully ingested. Per the never-demote
// invariant, callers must never set IngestStatus back to stub once full.
func (p *Paper) PromoteToFull() { p.IngestStatus = IngestFull }

// IsStale reports whether the node's last merge is older than maxAge,
// the Graph Tier's ensure_fresh gate (C4).
func (p *Paper) IsStale(maxAge time.Duration) bool {
	return time.Since(p.UpdatedAt) > maxAge
}

func (p *Paper) GetAuthorNames() []string {
	names := make([]string, len(p.Authors))
	for i, a := range p.Authors {
		names[i] = a.Name
	}
	return names
}

func (p *Paper) GetPrimaryAuthor() *Author {
	if len(p.Authors) == 0 {
		return nil
	}
	return &p.Authors[0]
}

// PaperFilter narrows a Graph Tier search_papers call (C4).
type PaperFilter struct {
	Title         string     `json:"title,omitempty"`
	Authors       []string   `json:"authors,omitempty"`
	Venue         string     `json:"venue,omitempty"`
	FieldsOfStudy []string   `json:"fields_of_study,omitempty"`
	MinCitations  *int       `json:"min_citations,omitempty"`
	MaxCitations  *int       `json:"max_citations,omitempty"`
	YearFrom      *int       `json:"year_from,omitempty"`
	YearTo        *int       `json:"year_to,omitempty"`
	PublishedFrom *time.Time `json:"published_from,omitempty"`
	PublishedTo   *time.Time `json:"published_to,omitempty"`
	OnlyFull      bool       `json:"only_full,omitempty"`
}

// PaperSort orders a search_papers result set.
type PaperSort struct {
	Field string `json:"field" validate:"oneof=updated_at publication_date citation_count title"`
	Order string `json:"order" validate:"oneof=asc desc"`
}

func DefaultPaperSort() PaperSort {
	return PaperSort{Field: "citation_count", Order: "desc"}
}
