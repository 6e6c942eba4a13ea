// Package access resolves the per-user permission tokens that gate every
// note-file operation. Resolution is a two-level lookup: the user's own row
// first, then the wildcard "Other" row, then fail closed.
package access

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OtherUserID is the sentinel user whose row supplies the default token for
// users without a grant of their own. Every file has one.
const OtherUserID = "*other"

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrProtectedGrant indicates an attempt to remove a file's Other row.
	ErrProtectedGrant = errors.New("access: the Other grant cannot be removed")
)

// Token is the seven-capability permission record for a (user, file, archive)
// triple. The zero value grants nothing.
type Token struct {
	UserID     string `gorm:"column:user_id;size:190;primaryKey"`
	NoteFileID int64  `gorm:"column:note_file_id;primaryKey"`
	ArchiveID  int    `gorm:"column:archive_id;primaryKey"`

	ReadAccess bool `gorm:"column:read_access;not null;default:false"`
	Respond    bool `gorm:"column:respond;not null;default:false"`
	Write      bool `gorm:"column:write;not null;default:false"`
	SetTag     bool `gorm:"column:set_tag;not null;default:false"`
	DeleteEdit bool `gorm:"column:delete_edit;not null;default:false"`
	ViewAccess bool `gorm:"column:view_access;not null;default:false"`
	EditAccess bool `gorm:"column:edit_access;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Token) TableName() string {
	return "note_access"
}

// ResolverConfig wires the resolver's collaborators.
type ResolverConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Resolver computes effective access tokens. Read paths have no side effects.
type Resolver struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewResolver validates the configuration and returns a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("access.resolver.new: %w", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{db: cfg.Database, logger: logger}, nil
}

// Resolve returns the effective token for the triple: the user's own row if
// present, otherwise the Other row, otherwise an all-false token. A missing
// file is not an error here; callers read the empty token as "no access".
func (r *Resolver) Resolve(ctx context.Context, userID string, fileID int64, archiveID int) (Token, error) {
	token, found, err := r.take(ctx, userID, fileID, archiveID)
	if err != nil {
		return Token{}, err
	}
	if found {
		return token, nil
	}
	token, found, err = r.take(ctx, OtherUserID, fileID, archiveID)
	if err != nil {
		return Token{}, err
	}
	if found {
		// The fallback acts for the requesting user.
		token.UserID = userID
		return token, nil
	}
	return Token{UserID: userID, NoteFileID: fileID, ArchiveID: archiveID}, nil
}

// ResolveExact returns only the user's own row, or an all-false token. Used
// when editing a specific user's grant, where the Other fallback would lie.
func (r *Resolver) ResolveExact(ctx context.Context, userID string, fileID int64, archiveID int) (Token, error) {
	token, found, err := r.take(ctx, userID, fileID, archiveID)
	if err != nil {
		return Token{}, err
	}
	if !found {
		return Token{UserID: userID, NoteFileID: fileID, ArchiveID: archiveID}, nil
	}
	return token, nil
}

func (r *Resolver) take(ctx context.Context, userID string, fileID int64, archiveID int) (Token, bool, error) {
	var token Token
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND note_file_id = ? AND archive_id = ?", userID, fileID, archiveID).
		Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Token{}, false, nil
	}
	if err != nil {
		r.logger.Error("access lookup failed", zap.Error(err),
			zap.String("user_id", userID), zap.Int64("file_id", fileID))
		return Token{}, false, fmt.Errorf("access.resolve.query_failed: %w", err)
	}
	return token, true, nil
}

// SeedBaseEntries writes the standard starting grants for a new file: an
// all-false Other row and an all-true owner row.
func (r *Resolver) SeedBaseEntries(tx *gorm.DB, ownerID string, fileID int64, archiveID int) error {
	other := Token{UserID: OtherUserID, NoteFileID: fileID, ArchiveID: archiveID}
	if err := tx.Create(&other).Error; err != nil {
		return err
	}
	owner := Token{
		UserID:     ownerID,
		NoteFileID: fileID,
		ArchiveID:  archiveID,
		ReadAccess: true,
		Respond:    true,
		Write:      true,
		SetTag:     true,
		DeleteEdit: true,
		ViewAccess: true,
		EditAccess: true,
	}
	return tx.Create(&owner).Error
}

// DeleteFileGrants removes every grant row for a file as part of its cascade.
func (r *Resolver) DeleteFileGrants(tx *gorm.DB, fileID int64) error {
	return tx.Where("note_file_id = ?", fileID).Delete(&Token{}).Error
}

// ListForFile returns all grant rows for a file and archive.
func (r *Resolver) ListForFile(ctx context.Context, fileID int64, archiveID int) ([]Token, error) {
	var tokens []Token
	err := r.db.WithContext(ctx).
		Where("note_file_id = ? AND archive_id = ?", fileID, archiveID).
		Order("user_id").
		Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("access.list.query_failed: %w", err)
	}
	return tokens, nil
}

// Upsert writes a grant row, replacing any existing row for the same triple.
func (r *Resolver) Upsert(ctx context.Context, token Token) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND note_file_id = ? AND archive_id = ?",
			token.UserID, token.NoteFileID, token.ArchiveID).
			Delete(&Token{}).Error
		if err != nil {
			return fmt.Errorf("access.upsert.delete_failed: %w", err)
		}
		if err := tx.Create(&token).Error; err != nil {
			return fmt.Errorf("access.upsert.insert_failed: %w", err)
		}
		return nil
	})
}

// Delete removes a user's grant row. The Other row is load-bearing for the
// fallback and is refused.
func (r *Resolver) Delete(ctx context.Context, userID string, fileID int64, archiveID int) error {
	if userID == OtherUserID {
		return ErrProtectedGrant
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND note_file_id = ? AND archive_id = ?", userID, fileID, archiveID).
		Delete(&Token{}).Error
	if err != nil {
		return fmt.Errorf("access.delete.failed: %w", err)
	}
	return nil
}
