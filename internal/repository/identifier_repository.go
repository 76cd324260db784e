package repository

import (
	"context"
	"log/slog"

	"scholargate/internal/errors"
	"scholargate/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// identifierRepository implements IdentifierRepository (C2) over the
// external_id_mappings table: one durable row per (type, value) pair,
// atomically upserted so a resolved identifier never briefly vanishes
// between a delete and a re-insert.
type identifierRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewIdentifierRepository(db *gorm.DB, logger *slog.Logger) IdentifierRepository {
	return &identifierRepository{db: db, logger: logger}
}

func (r *identifierRepository) Resolve(ctx context.Context, externalType, externalValue string) (string, error) {
	var mapping models.ExternalIDMapping
	err := r.db.WithContext(ctx).
		First(&mapping, "external_type = ? AND external_value = ?", externalType, externalValue).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", errors.NewStorageErr("resolve_identifier", err)
	}
	return mapping.PaperID, nil
}

// Upsert writes the (external_type, external_value) -> paper_id mapping.
// The composite primary key on (external_type, external_value) and the
// secondary unique index on (paper_id, external_type) together enforce
// that each paper carries at most one resolved value per scheme, so a
// conflicting re-resolution overwrites rather than duplicates.
func (r *identifierRepository) Upsert(ctx context.Context, externalType, externalValue, paperID string) error {
	mapping := &models.ExternalIDMapping{
		ExternalType:  externalType,
		ExternalValue: externalValue,
		PaperID:       paperID,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("paper_id = ? AND external_type = ? AND external_value <> ?", paperID, externalType, externalValue).
			Delete(&models.ExternalIDMapping{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_type"}, {Name: "external_value"}},
			DoUpdates: clause.AssignmentColumns([]string{"paper_id", "updated_at"}),
		}).Create(mapping).Error
	})
	if err != nil {
		return errors.NewStorageErr("upsert_identifier", err)
	}
	return nil
}

func (r *identifierRepository) ListForPaper(ctx context.Context, paperID string) ([]models.ExternalIDMapping, error) {
	var mappings []models.ExternalIDMapping
	if err := r.db.WithContext(ctx).Find(&mappings, "paper_id = ?", paperID).Error; err != nil {
		return nil, errors.NewStorageErr("list_identifiers", err)
	}
	return mappings, nil
}
