package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/musedev/muse/errors"
)

// SqliteStore implements Store on SQLite with the sqlite-vec extension.
// One database file holds one scope's index; the vector table dimension is
// fixed when the file is first created.
type SqliteStore struct {
	db     *gorm.DB
	scope  Scope
	vecDim int
}

var _ Store = (*SqliteStore)(nil)

// SqliteRecord is the gorm model backing Record rows.
type SqliteRecord struct {
	ID         string `gorm:"primaryKey"`
	CreatedAt  time.Time
	Text       string
	Importance float64
	Metadata   datatypes.JSONType[map[string]any]
}

func (SqliteRecord) TableName() string {
	return "records"
}

// indexMeta pins the embedding dimension the index was built with.
type indexMeta struct {
	Key   string `gorm:"primaryKey"`
	Value int
}

func (indexMeta) TableName() string {
	return "index_meta"
}

func NewSqliteStore(dir string, scope Scope, dimension int) (*SqliteStore, error) {
	sqlite_vec.Auto()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create memory dir %s", dir)
	}
	dbPath := filepath.Join(dir, "index.db")

	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_foreign_keys=on", dbPath)),
		&gorm.Config{},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite database at %s", dbPath)
	}

	store := &SqliteStore{
		db:     db,
		scope:  scope,
		vecDim: dimension,
	}

	if err := db.AutoMigrate(&SqliteRecord{}, &indexMeta{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate records table")
	}

	if err := store.checkDimension(); err != nil {
		return nil, err
	}

	if err := store.createVectorTable(); err != nil {
		return nil, err
	}

	return store, nil
}

// checkDimension rejects an index built with a different embedding model.
func (s *SqliteStore) checkDimension() error {
	var meta indexMeta
	err := s.db.First(&meta, "key = ?", "dimension").Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.Create(&indexMeta{Key: "dimension", Value: s.vecDim}).Error
	case err != nil:
		return errors.Wrapf(err, "failed to read index metadata")
	case meta.Value != s.vecDim:
		return errors.Wrapf(errors.ErrMemory,
			"scope %s index was built with dimension %d, process uses %d; rebuild the index",
			s.scope, meta.Value, s.vecDim)
	}
	return nil
}

func (s *SqliteStore) createVectorTable() error {
	var sqliteVersion, vecVersion string
	if err := s.db.Raw("SELECT sqlite_version(), vec_version()").Row().Scan(&sqliteVersion, &vecVersion); err != nil {
		return errors.Wrapf(err, "sqlite-vec extension not properly loaded")
	}

	createTableSQL := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS record_vectors USING vec0(
			record_id TEXT PRIMARY KEY,
			embedding float[%d]
		);
	`, s.vecDim)

	if err := s.db.Exec(createTableSQL).Error; err != nil {
		return errors.Wrapf(err, "failed to create record_vectors table")
	}

	return nil
}

func (s *SqliteStore) Add(ctx context.Context, record *Record) error {
	if len(record.Embedding) != s.vecDim {
		return errors.Wrapf(errors.ErrMemory, "embedding dimension mismatch: got %d, want %d", len(record.Embedding), s.vecDim)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}
		record.Scope = s.scope

		row := SqliteRecord{
			ID:         record.ID,
			CreatedAt:  record.CreatedAt,
			Text:       record.Text,
			Importance: record.Importance,
			Metadata:   datatypes.NewJSONType(record.Metadata),
		}
		if err := tx.Save(&row).Error; err != nil {
			return errors.Wrapf(err, "failed to save record")
		}

		if err := tx.Exec("DELETE FROM record_vectors WHERE record_id = ?", record.ID).Error; err != nil {
			return errors.Wrapf(err, "failed to delete existing vector")
		}

		serialized, err := sqlite_vec.SerializeFloat32(record.Embedding)
		if err != nil {
			return errors.Wrapf(err, "failed to serialize embedding")
		}

		if err := tx.Exec("INSERT INTO record_vectors (record_id, embedding) VALUES (?, ?)", record.ID, serialized).Error; err != nil {
			return errors.Wrapf(err, "failed to insert record vector")
		}

		return nil
	})
}

func (s *SqliteStore) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredRecord, error) {
	if len(queryEmbedding) == 0 || limit <= 0 {
		return nil, nil
	}
	if len(queryEmbedding) != s.vecDim {
		return nil, errors.Wrapf(errors.ErrMemory, "query embedding dimension mismatch: got %d, want %d", len(queryEmbedding), s.vecDim)
	}

	serialized, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize query embedding")
	}

	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT record_id, distance
		FROM record_vectors
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, serialized, limit).Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to execute search query")
	}
	defer rows.Close()

	var ids []string
	distanceByID := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, errors.Wrapf(err, "failed to scan result row")
		}
		ids = append(ids, id)
		distanceByID[id] = distance
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var records []SqliteRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to fetch records")
	}
	byID := make(map[string]*SqliteRecord, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	// preserve the distance ordering returned by the vector table
	results := make([]ScoredRecord, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		results = append(results, ScoredRecord{
			Record: &Record{
				ID:         row.ID,
				Text:       row.Text,
				Importance: row.Importance,
				Scope:      s.scope,
				Metadata:   row.Metadata.Data(),
				CreatedAt:  row.CreatedAt,
			},
			Score: 1.0 - distanceByID[id],
		})
	}

	return results, nil
}

func (s *SqliteStore) List(ctx context.Context) ([]*Record, error) {
	var rows []SqliteRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list records")
	}

	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, &Record{
			ID:         row.ID,
			Text:       row.Text,
			Importance: row.Importance,
			Scope:      s.scope,
			Metadata:   row.Metadata.Data(),
			CreatedAt:  row.CreatedAt,
		})
	}
	return records, nil
}

func (s *SqliteStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM record_vectors WHERE record_id = ?", id).Error; err != nil {
			return errors.Wrapf(err, "failed to delete vector")
		}
		if err := tx.Delete(&SqliteRecord{}, "id = ?", id).Error; err != nil {
			return errors.Wrapf(err, "failed to delete record")
		}
		return nil
	})
}

func (s *SqliteStore) SetImportance(ctx context.Context, id string, importance float64) error {
	res := s.db.WithContext(ctx).Model(&SqliteRecord{}).Where("id = ?", id).Update("importance", importance)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update importance")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "record %s", id)
	}
	return nil
}

func (s *SqliteStore) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&SqliteRecord{}).Count(&count).Error; err != nil {
		return 0, errors.Wrapf(err, "failed to count records")
	}
	return int(count), nil
}

func (s *SqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
