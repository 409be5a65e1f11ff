package database

import (
	"context"
	"errors"
	"time"

	"github.com/konstpic/marznode-stats/database/model"
	"github.com/konstpic/marznode-stats/tail"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CursorStore persists tail cursors in the tail_cursors table.
type CursorStore struct{}

// LoadCursor implements tail.CursorStore.
func (CursorStore) LoadCursor(ctx context.Context, path string) (tail.Cursor, bool, error) {
	var row model.TailCursor
	err := GetDB().WithContext(ctx).Where("path = ?", path).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tail.Cursor{}, false, nil
	}
	if err != nil {
		return tail.Cursor{}, false, err
	}
	return tail.Cursor{
		Path:      row.Path,
		Dev:       row.Dev,
		Inode:     row.Inode,
		Offset:    row.Offset,
		Size:      row.Size,
		UpdatedAt: time.UnixMilli(row.SavedAt),
	}, true, nil
}

// SaveCursor implements tail.CursorStore.
func (CursorStore) SaveCursor(ctx context.Context, c tail.Cursor) error {
	row := model.TailCursor{
		Path:    c.Path,
		Dev:     c.Dev,
		Inode:   c.Inode,
		Offset:  c.Offset,
		Size:    c.Size,
		SavedAt: c.UpdatedAt.UnixMilli(),
	}
	return GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"dev", "inode", "offset", "size", "saved_at"}),
	}).Create(&row).Error
}

// DeleteCursor implements tail.CursorStore.
func (CursorStore) DeleteCursor(ctx context.Context, path string) error {
	return GetDB().WithContext(ctx).Where("path = ?", path).Delete(&model.TailCursor{}).Error
}
