package store

import (
	"context"
	"fmt"

	"github.com/shashiranjanraj/kashvi-query/pkg/database"
	"gorm.io/gorm"
)

// kvRow and recordRow are the two tables SQLStore needs; AutoMigrate is
// run once in NewSQLStore, the same boot-time pattern pkg/database.Connect
// leaves to callers (call it once, then use the handle).
type kvRow struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

func (kvRow) TableName() string { return "query_kv" }

type recordRow struct {
	StoreName string `gorm:"primaryKey;column:store_name"`
	ID        string `gorm:"primaryKey;column:id"`
	Data      []byte `gorm:"column:data"`
}

func (recordRow) TableName() string { return "query_records" }

// SQLStore is a Store backed by any GORM dialector (sqlite/postgres/mysql/
// sqlserver, matching this repo's own driver set in go.mod). It talks to
// gorm directly rather than through pkg/orm.Query: that wrapper is built
// around a single fixed model type per query and named-scope chaining,
// neither of which fits two fixed, already-known tables.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore wraps db, migrating the two tables it needs.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&kvRow{}, &recordRow{}); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// OpenSQLStore connects using the DB_DRIVER/DATABASE_DSN config pair (the
// same pkg/database.Connect boot step the rest of this repo uses) and
// wraps the resulting handle.
func OpenSQLStore() (*SQLStore, error) {
	database.Connect()
	return NewSQLStore(database.DB)
}

func (s *SQLStore) Init(ctx context.Context) error { return nil }

// Driver identifies this implementation for metrics labeling.
func (s *SQLStore) Driver() string { return "sql" }

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var row kvRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: sql get %q: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	row := kvRow{Key: key, Value: value}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&kvRow{}, "key = ?", key).Error
}

func (s *SQLStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("DELETE FROM query_kv").Error
}

func (s *SQLStore) GetRecord(ctx context.Context, storeName, id string) (Record, bool, error) {
	var row recordRow
	err := s.db.WithContext(ctx).First(&row, "store_name = ? AND id = ?", storeName, id).Error
	if err == gorm.ErrRecordNotFound {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("store: sql get record %q/%q: %w", storeName, id, err)
	}
	return Record{ID: row.ID, Data: row.Data}, true, nil
}

func (s *SQLStore) SetRecord(ctx context.Context, storeName string, rec Record) error {
	row := recordRow{StoreName: storeName, ID: rec.ID, Data: rec.Data}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLStore) DeleteRecord(ctx context.Context, storeName, id string) error {
	return s.db.WithContext(ctx).Delete(&recordRow{}, "store_name = ? AND id = ?", storeName, id).Error
}

func (s *SQLStore) GetRecords(ctx context.Context, storeName string) ([]Record, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).Where("store_name = ?", storeName).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: sql list records %q: %w", storeName, err)
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = Record{ID: row.ID, Data: row.Data}
	}
	return out, nil
}

func (s *SQLStore) SetRecords(ctx context.Context, storeName string, records []Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&recordRow{}, "store_name = ?", storeName).Error; err != nil {
			return err
		}
		for _, rec := range records {
			row := recordRow{StoreName: storeName, ID: rec.ID, Data: rec.Data}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) DeleteRecords(ctx context.Context, storeName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&recordRow{}, "store_name = ? AND id IN ?", storeName, ids).Error
}

func (s *SQLStore) ClearStore(ctx context.Context, storeName string) error {
	return s.db.WithContext(ctx).Delete(&recordRow{}, "store_name = ?", storeName).Error
}
