package docstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// DocumentModel is the GORM row backing one document.
type DocumentModel struct {
	Collection string         `gorm:"primaryKey;size:512;index:idx_documents_col_created,priority:1"`
	DocID      string         `gorm:"primaryKey;size:128"`
	Data       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index:idx_documents_col_created,priority:2"`
	UpdatedAt  *time.Time
}

// TableName pins the table regardless of GORM naming strategy.
func (DocumentModel) TableName() string { return "documents" }

// GormStore implements Store on Postgres. Writes are published to the
// configured Publisher after commit so out-of-process subscribers see
// the same change stream the memory store fans out directly.
type GormStore struct {
	db  *gorm.DB
	pub Publisher
}

// NewGormStore opens the DB and runs auto-migrations. pub may be nil
// when no live feed is wired.
func NewGormStore(dsn string, pub Publisher) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db, pub: pub}, nil
}

// Put writes the document, assigning CreatedAt when unset.
func (s *GormStore) Put(ctx context.Context, col string, doc Document) (Document, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	kind := Added
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DocumentModel
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND doc_id = ?", col, doc.ID).
			Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			kind = Modified
			doc.CreatedAt = existing.CreatedAt
			now := time.Now().UTC()
			doc.UpdatedAt = &now
		}
		row := DocumentModel{
			Collection: col,
			DocID:      doc.ID,
			Data:       datatypes.JSON(doc.Data),
			CreatedAt:  doc.CreatedAt,
			UpdatedAt:  doc.UpdatedAt,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
	if err != nil {
		return Document{}, fmt.Errorf("put document: %w", err)
	}
	s.publish(ctx, col, Batch{{Kind: kind, Doc: doc}})
	return doc, nil
}

// Patch applies mutate inside a transaction holding a row lock.
func (s *GormStore) Patch(ctx context.Context, col, id string, mutate Mutate) (Document, error) {
	var next Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row DocumentModel
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND doc_id = ?", col, id).
			Limit(1).Find(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		doc := rowToDoc(row)
		mutated, err := mutate(doc)
		if err != nil {
			return err
		}
		mutated.ID = doc.ID
		mutated.CreatedAt = doc.CreatedAt
		now := time.Now().UTC()
		mutated.UpdatedAt = &now
		next = mutated
		return tx.Model(&DocumentModel{}).
			Where("collection = ? AND doc_id = ?", col, id).
			Updates(map[string]any{
				"data":       datatypes.JSON(mutated.Data),
				"updated_at": mutated.UpdatedAt,
			}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("patch document: %w", err)
	}
	s.publish(ctx, col, Batch{{Kind: Modified, Doc: next}})
	return next, nil
}

// Get returns the document or ErrNotFound.
func (s *GormStore) Get(ctx context.Context, col, id string) (Document, error) {
	var row DocumentModel
	res := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", col, id).
		Limit(1).Find(&row)
	if res.Error != nil {
		return Document{}, fmt.Errorf("get document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Document{}, ErrNotFound
	}
	return rowToDoc(row), nil
}

// Delete removes the document if present.
func (s *GormStore) Delete(ctx context.Context, col, id string) error {
	var row DocumentModel
	res := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", col, id).
		Limit(1).Find(&row)
	if res.Error != nil {
		return fmt.Errorf("delete document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", col, id).
		Delete(&DocumentModel{}).Error; err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.publish(ctx, col, Batch{{Kind: Removed, Doc: rowToDoc(row)}})
	return nil
}

// Page returns documents ordered by (created_at, doc_id), strictly
// beyond startAfter when set.
func (s *GormStore) Page(ctx context.Context, col string, order Order, startAfter *Document, limit int) ([]Document, error) {
	q := s.db.WithContext(ctx).Model(&DocumentModel{}).Where("collection = ?", col)
	if startAfter != nil {
		if order == Desc {
			q = q.Where("(created_at, doc_id) < (?, ?)", startAfter.CreatedAt, startAfter.ID)
		} else {
			q = q.Where("(created_at, doc_id) > (?, ?)", startAfter.CreatedAt, startAfter.ID)
		}
	}
	dir := "ASC"
	if order == Desc {
		dir = "DESC"
	}
	var rows []DocumentModel
	if err := q.Order("created_at " + dir + ", doc_id " + dir).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("page documents: %w", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, rowToDoc(row))
	}
	return docs, nil
}

func (s *GormStore) publish(ctx context.Context, col string, batch Batch) {
	if s.pub == nil {
		return
	}
	// Best effort: a lost notification degrades liveness, not
	// durability.
	_ = s.pub.Publish(ctx, col, batch)
}

func rowToDoc(row DocumentModel) Document {
	return Document{
		ID:        row.DocID,
		Data:      []byte(row.Data),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
