package link

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrLinkNotFound indicates a referenced linked-file row does not exist.
var ErrLinkNotFound = errors.New("link: linked file not found")

// Admin manages the standing LinkedFile relationships.
type Admin struct {
	db *gorm.DB
}

// NewAdmin returns an Admin over the given database.
func NewAdmin(db *gorm.DB) *Admin {
	return &Admin{db: db}
}

// Create registers a new linked file relationship.
func (a *Admin) Create(ctx context.Context, linked *LinkedFile) error {
	if err := a.db.WithContext(ctx).Create(linked).Error; err != nil {
		return fmt.Errorf("link.admin.create: %w", err)
	}
	return nil
}

// Get loads one relationship by id.
func (a *Admin) Get(ctx context.Context, linkedFileID int64) (*LinkedFile, error) {
	var linked LinkedFile
	err := a.db.WithContext(ctx).Where("id = ?", linkedFileID).Take(&linked).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("link.admin.get: %w", err)
	}
	return &linked, nil
}

// Update replaces the mutable fields of one relationship.
func (a *Admin) Update(ctx context.Context, linked *LinkedFile) error {
	var existing LinkedFile
	err := a.db.WithContext(ctx).Where("id = ?", linked.ID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrLinkNotFound
	}
	if err != nil {
		return fmt.Errorf("link.admin.update: %w", err)
	}
	if err := a.db.WithContext(ctx).Save(linked).Error; err != nil {
		return fmt.Errorf("link.admin.update: %w", err)
	}
	return nil
}

// Delete removes one relationship and its pending queue rows.
func (a *Admin) Delete(ctx context.Context, linkedFileID int64) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("linked_file_id = ?", linkedFileID).Delete(&LinkQueue{}).Error; err != nil {
			return fmt.Errorf("link.admin.delete: %w", err)
		}
		result := tx.Where("id = ?", linkedFileID).Delete(&LinkedFile{})
		if result.Error != nil {
			return fmt.Errorf("link.admin.delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrLinkNotFound
		}
		return nil
	})
}

// ListForFile returns the relationships anchored on one home file.
func (a *Admin) ListForFile(ctx context.Context, homeFileID int64) ([]LinkedFile, error) {
	var links []LinkedFile
	err := a.db.WithContext(ctx).Where("home_file_id = ?", homeFileID).Order("id").Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("link.admin.list: %w", err)
	}
	return links, nil
}

// PurgeFile implements notes.FileCleanup: a deleted home file takes its link
// relationships and their queued deliveries with it.
func (a *Admin) PurgeFile(tx *gorm.DB, fileID int64) error {
	if err := tx.Where("linked_file_id IN (?)",
		tx.Session(&gorm.Session{NewDB: true}).Model(&LinkedFile{}).Select("id").Where("home_file_id = ?", fileID),
	).Delete(&LinkQueue{}).Error; err != nil {
		return err
	}
	return tx.Where("home_file_id = ?", fileID).Delete(&LinkedFile{}).Error
}
