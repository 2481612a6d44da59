package records

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// GormRepository stores podcasts in a SQL database through gorm.
type GormRepository struct {
	db *gorm.DB
}

// OpenPostgres opens a gorm connection to the postgres database at dsn.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	return db, nil
}

// NewGormRepository creates a repository on an open database.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// AutoMigrate creates or updates the podcasts table.
func (r *GormRepository) AutoMigrate() error {
	err := r.db.AutoMigrate(&Podcast{})
	if err != nil {
		return fmt.Errorf("failed to migrate podcasts table: %w", err)
	}

	return nil
}

func (r *GormRepository) Create(ctx context.Context, podcast *Podcast) error {
	err := r.db.WithContext(ctx).Create(podcast).Error
	if err != nil {
		return fmt.Errorf("failed to insert podcast %s: %w", podcast.ID, err)
	}

	return nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*Podcast, error) {
	var podcast Podcast

	err := r.db.WithContext(ctx).First(&podcast, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: '%s'", ErrNotFound, id)
		}

		return nil, fmt.Errorf("failed to load podcast %s: %w", id, err)
	}

	return &podcast, nil
}

func (r *GormRepository) ListByAuthor(ctx context.Context, authorID string) ([]Podcast, error) {
	var podcasts []Podcast

	err := r.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at desc").
		Find(&podcasts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list podcasts of %s: %w", authorID, err)
	}

	return podcasts, nil
}

func (r *GormRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&Podcast{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete podcast %s: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: '%s'", ErrNotFound, id)
	}

	return nil
}
