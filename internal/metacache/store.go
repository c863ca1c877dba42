package metacache

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Document is a stored metadata document.
type Document struct {
	URI         string `gorm:"primaryKey;size:512"`
	Fingerprint string `gorm:"size:16;not null"`
	Body        []byte `gorm:"not null"`
	UpdatedAt   time.Time
}

func (Document) TableName() string { return "metadata_documents" }

// GormStore keeps metadata documents in a SQL database.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore uses db and migrates the metadata_documents table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate metadata store: %w", err)
	}
	return &GormStore{db: db}, nil
}

// OpenStore opens a store. dialect is "sqlite" (dsn is a file name or
// ":memory:") or "postgres" (dsn is a connection string).
func OpenStore(dialect, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		conn, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite3", Conn: conn})
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported metadata store dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	return NewGormStore(db)
}

func (s *GormStore) Load(ctx context.Context, uri string) ([]byte, bool, error) {
	var docs []Document
	if err := s.db.WithContext(ctx).Where("uri = ?", uri).Limit(1).Find(&docs).Error; err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0].Body, true, nil
}

// Save writes doc unless the stored document has the same fingerprint.
func (s *GormStore) Save(ctx context.Context, uri string, doc []byte, fingerprint uint64) error {
	fp := strconv.FormatUint(fingerprint, 16)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Document
		if err := tx.Where("uri = ?", uri).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 && existing[0].Fingerprint == fp {
			return nil
		}
		return tx.Save(&Document{URI: uri, Fingerprint: fp, Body: doc}).Error
	})
}

func (s *GormStore) Delete(ctx context.Context, uri string) error {
	return s.db.WithContext(ctx).Where("uri = ?", uri).Delete(&Document{}).Error
}

// Fingerprint returns the stored fingerprint of uri, or "" when absent.
func (s *GormStore) Fingerprint(ctx context.Context, uri string) (string, error) {
	var docs []Document
	if err := s.db.WithContext(ctx).Select("fingerprint").Where("uri = ?", uri).Limit(1).Find(&docs).Error; err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].Fingerprint, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
