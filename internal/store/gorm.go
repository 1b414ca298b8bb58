package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// DocumentRow is the gorm model backing the SQL document store: one row per
// document, fields serialized as JSON.
type DocumentRow struct {
	Collection string    `gorm:"primaryKey;size:128"`
	DocID      string    `gorm:"primaryKey;size:64"`
	Data       Record    `gorm:"serializer:json;type:text"`
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

func (DocumentRow) TableName() string { return "documents" }

// SQL is a RecordStore backed by a relational database through gorm. The
// change feed covers only writes made through this instance; there is no
// cross-process replication of events.
type SQL struct {
	db   *gorm.DB
	feed *feed
}

func NewSQL(db *gorm.DB) *SQL {
	return &SQL{db: db, feed: newFeed()}
}

func (s *SQL) Get(ctx context.Context, collection, id string) (Record, error) {
	var row DocumentRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

func (s *SQL) Create(ctx context.Context, collection, id string, data Record) error {
	row := DocumentRow{Collection: collection, DocID: id, Data: cloneRecord(data)}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	s.feed.publish(ChangeEvent{Collection: collection, Type: ChangeCreate, ID: id, Data: cloneRecord(data)})
	return nil
}

func (s *SQL) Update(ctx context.Context, collection, id string, data Record) error {
	var row DocumentRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if row.Data == nil {
		row.Data = Record{}
	}
	for k, v := range data {
		row.Data[k] = v
	}
	// Column updates bypass gorm's field serializer; encode the document
	// text ourselves.
	encoded, err := json.Marshal(row.Data)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Model(&DocumentRow{}).
		Where("collection = ? AND doc_id = ?", collection, id).
		Update("data", string(encoded)).Error; err != nil {
		return err
	}
	s.feed.publish(ChangeEvent{Collection: collection, Type: ChangeUpdate, ID: id, Data: cloneRecord(row.Data)})
	return nil
}

func (s *SQL) Delete(ctx context.Context, collection, id string) error {
	var row DocumentRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Delete(&DocumentRow{}).Error; err != nil {
		return err
	}
	s.feed.publish(ChangeEvent{Collection: collection, Type: ChangeDelete, ID: id, Data: cloneRecord(row.Data)})
	return nil
}

func (s *SQL) List(ctx context.Context, collection string, opts ListOptions) ([]Document, error) {
	q := s.db.WithContext(ctx).
		Model(&DocumentRow{}).
		Where("collection = ?", collection).
		Order("created_at DESC")
	if opts.CreatedBefore != nil {
		q = q.Where("created_at < ?", *opts.CreatedBefore)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var rows []DocumentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Document{
			Collection: row.Collection,
			ID:         row.DocID,
			Data:       row.Data,
			CreatedAt:  row.CreatedAt,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	return docs, nil
}

func (s *SQL) Subscribe(collection string, fn Handler) UnsubscribeFunc {
	return s.feed.subscribe(collection, fn)
}
