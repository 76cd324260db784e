package repository

import (
	"context"
	"log/slog"
	"strings"

	"scholargate/internal/errors"
	"scholargate/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// graphRepository implements GraphRepository over a relational GORM
// store. No graph-database driver is wired anywhere in this module's
// dependency stack, so the Graph Tier's node/edge model is carried by
// ordinary tables: papers, authors, paper_authors, citation_edges, and
// data_chunks.
type graphRepository struct {
	db       *gorm.DB
	logger   *slog.Logger
	dialect  string
}

// NewGraphRepository creates the relational Graph Tier repository (C4).
func NewGraphRepository(db *gorm.DB, logger *slog.Logger, dialect string) GraphRepository {
	return &graphRepository{db: db, logger: logger, dialect: dialect}
}

func (r *graphRepository) GetPaper(ctx context.Context, paperID string) (*models.Paper, error) {
	var paper models.Paper
	err := r.db.WithContext(ctx).Preload("Authors").First(&paper, "paper_id = ?", paperID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundErr("paper", paperID)
		}
		return nil, errors.NewStorageErr("get_paper", err)
	}
	return &paper, nil
}

// UpsertPaper writes paper via an upsert keyed on paper_id. Per the
// never-demote invariant, a paper already marked full is never allowed
// to revert to stub through this path: the incoming row's IngestStatus
// is only honored when the existing row (if any) is still a stub.
func (r *graphRepository) UpsertPaper(ctx context.Context, paper *models.Paper) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Paper
		err := tx.Select("paper_id", "ingest_status").First(&existing, "paper_id = ?", paper.PaperID).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			if err := tx.Create(paper).Error; err != nil {
				return errors.NewStorageErr("create_paper", err)
			}
		case err != nil:
			return errors.NewStorageErr("get_paper_for_upsert", err)
		default:
			if existing.IsFull() {
				paper.IngestStatus = models.IngestFull
			}
			if err := tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(paper).Error; err != nil {
				return errors.NewStorageErr("update_paper", err)
			}
		}
		return nil
	})
}

func (r *graphRepository) EnsureStub(ctx context.Context, paperID, title string) (*models.Paper, error) {
	var existing models.Paper
	err := r.db.WithContext(ctx).First(&existing, "paper_id = ?", paperID).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, errors.NewStorageErr("ensure_stub_lookup", err)
	}

	stub := &models.Paper{PaperID: paperID, Title: title, IngestStatus: models.IngestStub}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(stub).Error; err != nil {
		return nil, errors.NewStorageErr("ensure_stub_create", err)
	}
	return stub, nil
}

func (r *graphRepository) SearchPapers(ctx context.Context, query string, filter *models.PaperFilter, sort *models.PaperSort, limit, offset int) ([]models.Paper, int64, error) {
	db := r.db.WithContext(ctx).Preload("Authors").Model(&models.Paper{})

	if query != "" {
		if r.dialect == "postgres" {
			db = db.Where("to_tsvector('english', title || ' ' || COALESCE(abstract, '')) @@ plainto_tsquery('english', ?)", query)
		} else {
			like := "%" + strings.ToLower(query) + "%"
			db = db.Where("lower(title) LIKE ? OR lower(abstract) LIKE ?", like, like)
		}
	}

	db = r.applyPaperFilter(db, filter)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, errors.NewStorageErr("count_papers", err)
	}

	db = r.applyPaperSort(db, sort)

	var papers []models.Paper
	if err := db.Limit(limit).Offset(offset).Find(&papers).Error; err != nil {
		return nil, 0, errors.NewStorageErr("search_papers", err)
	}
	return papers, total, nil
}

func (r *graphRepository) applyPaperFilter(db *gorm.DB, f *models.PaperFilter) *gorm.DB {
	if f == nil {
		return db
	}
	if f.Venue != "" {
		db = db.Where("venue = ?", f.Venue)
	}
	if f.MinCitations != nil {
		db = db.Where("citation_count >= ?", *f.MinCitations)
	}
	if f.MaxCitations != nil {
		db = db.Where("citation_count <= ?", *f.MaxCitations)
	}
	if f.YearFrom != nil {
		db = db.Where("year >= ?", *f.YearFrom)
	}
	if f.YearTo != nil {
		db = db.Where("year <= ?", *f.YearTo)
	}
	if f.PublishedFrom != nil {
		db = db.Where("publication_date >= ?", *f.PublishedFrom)
	}
	if f.PublishedTo != nil {
		db = db.Where("publication_date <= ?", *f.PublishedTo)
	}
	if f.OnlyFull {
		db = db.Where("ingest_status = ?", models.IngestFull)
	}
	return db
}

func (r *graphRepository) applyPaperSort(db *gorm.DB, s *models.PaperSort) *gorm.DB {
	sort := models.DefaultPaperSort()
	if s != nil && s.Field != "" {
		sort = *s
	}
	order := sort.Field + " " + strings.ToUpper(sort.Order)
	return db.Order(order)
}

// PutCitationEdges replaces the outbound edges for citingPaperID,
// creating a stub node for every cited paper the gateway has not yet
// fetched so the edge's foreign key always resolves.
func (r *graphRepository) PutCitationEdges(ctx context.Context, citingPaperID string, edges []models.CitationEdge) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range edges {
			edges[i].CitingPaperID = citingPaperID
			if _, err := (&graphRepository{db: tx, logger: r.logger, dialect: r.dialect}).EnsureStub(ctx, edges[i].CitedPaperID, ""); err != nil {
				return err
			}
		}
		if err := tx.Where("citing_paper_id = ?", citingPaperID).Delete(&models.CitationEdge{}).Error; err != nil {
			return errors.NewStorageErr("clear_citation_edges", err)
		}
		if len(edges) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(edges, 200).Error; err != nil {
			return errors.NewStorageErr("put_citation_edges", err)
		}
		return nil
	})
}

func (r *graphRepository) GetCitationEdges(ctx context.Context, paperID string, outbound bool, limit, offset int) ([]models.CitationEdge, int64, error) {
	filterColumn := "citing_paper_id"
	if !outbound {
		filterColumn = "cited_paper_id"
	}

	db := r.db.WithContext(ctx).Model(&models.CitationEdge{}).Where(filterColumn+" = ?", paperID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, errors.NewStorageErr("count_citation_edges", err)
	}

	var edges []models.CitationEdge
	if err := db.Order("position").Limit(limit).Offset(offset).Find(&edges).Error; err != nil {
		return nil, 0, errors.NewStorageErr("get_citation_edges", err)
	}
	return edges, total, nil
}

func (r *graphRepository) GetDataChunk(ctx context.Context, paperID string, chunkType models.DataChunkType) (*models.DataChunk, error) {
	var chunk models.DataChunk
	err := r.db.WithContext(ctx).First(&chunk, "paper_id = ? AND chunk_type = ?", paperID, chunkType).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageErr("get_data_chunk", err)
	}
	return &chunk, nil
}

func (r *graphRepository) PutDataChunk(ctx context.Context, chunk *models.DataChunk) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "paper_id"}, {Name: "chunk_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"data_json", "updated_at"}),
	}).Create(chunk).Error
	if err != nil {
		return errors.NewStorageErr("put_data_chunk", err)
	}
	return nil
}

func (r *graphRepository) UpsertAuthors(ctx context.Context, authors []models.Author) ([]models.Author, error) {
	if len(authors) == 0 {
		return nil, nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "affiliation", "orcid", "website"}),
	}).Create(&authors).Error
	if err != nil {
		return nil, errors.NewStorageErr("upsert_authors", err)
	}
	return authors, nil
}

func (r *graphRepository) GetAuthor(ctx context.Context, authorID string) (*models.Author, error) {
	var author models.Author
	err := r.db.WithContext(ctx).First(&author, "id = ?", authorID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NewNotFoundErr("author", authorID)
	}
	if err != nil {
		return nil, errors.NewStorageErr("get_author", err)
	}
	return &author, nil
}
