package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

// TemplateRecord is the database row for a stored template
type TemplateRecord struct {
	ID          string         `gorm:"primaryKey"`
	Name        string         `gorm:"not null"`
	Description string         `gorm:"type:text"`
	Data        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time      `gorm:"index;autoUpdateTime:false"`
}

// TableName overrides the table name
func (TemplateRecord) TableName() string {
	return "payload_templates"
}

// PostgresStore keeps templates in a PostgreSQL table with the form data in a jsonb column
type PostgresStore struct {
	db *gorm.DB
}

// PostgresOptions tunes the connection pool
type PostgresOptions struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres connects to dsn and migrates the template table
func OpenPostgres(dsn string, opts PostgresOptions) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database handle")
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&TemplateRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to auto-migrate template table")
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an already opened connection
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

// Close releases the underlying connection pool
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) List(ctx context.Context) ([]models.StoredTemplate, error) {
	var records []TemplateRecord
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list templates")
	}
	templates := make([]models.StoredTemplate, 0, len(records))
	for i := range records {
		template, err := fromRecord(&records[i])
		if skipUnreadable(s.Name(), err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}
	return templates, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.StoredTemplate, error) {
	var record TemplateRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get template %s", id)
	}
	return fromRecord(&record)
}

func (s *PostgresStore) Insert(ctx context.Context, template models.StoredTemplate) error {
	record, err := toRecord(template)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrapf(err, "failed to create template %s", template.ID)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, template models.StoredTemplate) (*models.StoredTemplate, error) {
	record, err := toRecord(template)
	if err != nil {
		return nil, err
	}
	result := s.db.WithContext(ctx).
		Model(&TemplateRecord{}).
		Where("id = ?", template.ID).
		Updates(map[string]interface{}{
			"name":        record.Name,
			"description": record.Description,
			"data":        record.Data,
			"updated_at":  record.UpdatedAt,
		})
	if result.Error != nil {
		return nil, errors.Wrapf(result.Error, "failed to update template %s", template.ID)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.Get(ctx, template.ID)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&TemplateRecord{})
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "failed to delete template %s", id)
	}
	return result.RowsAffected > 0, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toRecord(template models.StoredTemplate) (*TemplateRecord, error) {
	data, err := schema.Encode(template.Data)
	if err != nil {
		return nil, err
	}
	return &TemplateRecord{
		ID:          template.ID,
		Name:        template.Name,
		Description: template.Description,
		Data:        datatypes.JSON(data),
		CreatedAt:   template.CreatedAt.UTC(),
		UpdatedAt:   template.UpdatedAt.UTC(),
	}, nil
}

func fromRecord(record *TemplateRecord) (*models.StoredTemplate, error) {
	values, err := decodeStoredValues(record.ID, record.Data)
	if err != nil {
		return nil, err
	}
	return &models.StoredTemplate{
		ID:          record.ID,
		Name:        record.Name,
		Description: record.Description,
		Data:        values,
		CreatedAt:   record.CreatedAt.UTC(),
		UpdatedAt:   record.UpdatedAt.UTC(),
	}, nil
}
