package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/models"
)

// RelationRepository handles persistence for follow/block edges.
type RelationRepository interface {
	FindPair(ctx context.Context, fromID, toID string) (models.Relation, error)
	FindByID(ctx context.Context, id string) (models.Relation, error)
	Create(ctx context.Context, relation *models.Relation) error
	UpdateType(ctx context.Context, relation *models.Relation, relationType models.RelationType) error
	Delete(ctx context.Context, id string) error
	DeletePair(ctx context.Context, fromID, toID string, relationType models.RelationType) (int64, error)
	ListBetween(ctx context.Context, userA, userB string) ([]models.Relation, error)
	ListFrom(ctx context.Context, fromID string, relationType models.RelationType) ([]models.Relation, error)
	ListTo(ctx context.Context, toID string, relationType models.RelationType) ([]models.Relation, error)
	CountFrom(ctx context.Context, fromID string, relationType models.RelationType) (int64, error)
	CountTo(ctx context.Context, toID string, relationType models.RelationType) (int64, error)
}

type relationRepository struct {
	db *gorm.DB
}

// NewRelationRepository constructs a repository backed by GORM.
func NewRelationRepository(db *gorm.DB) RelationRepository {
	return &relationRepository{db: db}
}

func (r *relationRepository) FindPair(ctx context.Context, fromID, toID string) (models.Relation, error) {
	var relation models.Relation
	if err := r.db.WithContext(ctx).Where("from_id = ? AND to_id = ?", fromID, toID).First(&relation).Error; err != nil {
		return models.Relation{}, err
	}
	return relation, nil
}

func (r *relationRepository) FindByID(ctx context.Context, id string) (models.Relation, error) {
	var relation models.Relation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&relation).Error; err != nil {
		return models.Relation{}, err
	}
	return relation, nil
}

func (r *relationRepository) Create(ctx context.Context, relation *models.Relation) error {
	return r.db.WithContext(ctx).Create(relation).Error
}

func (r *relationRepository) UpdateType(ctx context.Context, relation *models.Relation, relationType models.RelationType) error {
	return r.db.WithContext(ctx).Model(relation).Update("type", relationType).Error
}

func (r *relationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Relation{}).Error
}

func (r *relationRepository) DeletePair(ctx context.Context, fromID, toID string, relationType models.RelationType) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("from_id = ? AND to_id = ? AND type = ?", fromID, toID, relationType).
		Delete(&models.Relation{})
	return result.RowsAffected, result.Error
}

func (r *relationRepository) ListBetween(ctx context.Context, userA, userB string) ([]models.Relation, error) {
	var relations []models.Relation
	if err := r.db.WithContext(ctx).
		Where("(from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)", userA, userB, userB, userA).
		Order("created_at ASC").
		Find(&relations).Error; err != nil {
		return nil, err
	}
	return relations, nil
}

func (r *relationRepository) ListFrom(ctx context.Context, fromID string, relationType models.RelationType) ([]models.Relation, error) {
	var relations []models.Relation
	if err := r.db.WithContext(ctx).
		Where("from_id = ? AND type = ?", fromID, relationType).
		Order("created_at DESC").
		Find(&relations).Error; err != nil {
		return nil, err
	}
	return relations, nil
}

func (r *relationRepository) ListTo(ctx context.Context, toID string, relationType models.RelationType) ([]models.Relation, error) {
	var relations []models.Relation
	if err := r.db.WithContext(ctx).
		Where("to_id = ? AND type = ?", toID, relationType).
		Order("created_at DESC").
		Find(&relations).Error; err != nil {
		return nil, err
	}
	return relations, nil
}

func (r *relationRepository) CountFrom(ctx context.Context, fromID string, relationType models.RelationType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Relation{}).Where("from_id = ? AND type = ?", fromID, relationType).Count(&count).Error
	return count, err
}

func (r *relationRepository) CountTo(ctx context.Context, toID string, relationType models.RelationType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Relation{}).Where("to_id = ? AND type = ?", toID, relationType).Count(&count).Error
	return count, err
}
