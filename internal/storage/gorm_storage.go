package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type campaignRecord struct {
	ID                string                   `gorm:"primaryKey;type:varchar(36)"`
	Name              string                   `gorm:"type:varchar(255)"`
	RequestTemplate   string                   `gorm:"type:text"`
	Marker            string                   `gorm:"type:varchar(8)"`
	Target            string                   `gorm:"type:varchar(2048)"`
	Positions         []models.Position        `gorm:"serializer:json"`
	Bindings          []models.PositionBinding `gorm:"serializer:json"`
	AttackType        string                   `gorm:"type:varchar(32)"`
	SniperBaseline    string                   `gorm:"type:varchar(32)"`
	Concurrency       int
	DelayMs           int
	Status            string `gorm:"type:varchar(16);index"`
	TotalRequests     int64
	CompletedRequests int64
	FailedRequests    int64
	NextIndex         int64
	CreatedAt         time.Time `gorm:"index"`
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

func (campaignRecord) TableName() string { return "campaigns" }

type resultRecord struct {
	Seq            uint64   `gorm:"primaryKey;autoIncrement"` // append order
	ID             string   `gorm:"type:varchar(36);uniqueIndex"`
	CampaignID     string   `gorm:"type:varchar(36);not null;index:idx_result_campaign_tuple"`
	TupleIndex     int64    `gorm:"index:idx_result_campaign_tuple"`
	PayloadSet     []string `gorm:"serializer:json"`
	StatusCode     *int     `gorm:"column:status_code"`
	ResponseLength *int64   `gorm:"column:response_length"`
	ResponseTime   *int64
	Title          string   `gorm:"type:varchar(256)"`
	Forms          int
	Flags          []string `gorm:"serializer:json"`
	Error          string   `gorm:"type:text"`
	Timestamp      time.Time
}

func (resultRecord) TableName() string { return "campaign_results" }

// GormStorage keeps campaigns in a sqlite database through gorm
type GormStorage struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the sqlite database at path and migrates the schema.
func OpenSQLite(path string) (*GormStorage, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	return NewGormStorage(db)
}

// NewGormStorage wraps an open gorm connection
func NewGormStorage(db *gorm.DB) (*GormStorage, error) {
	if err := db.AutoMigrate(&campaignRecord{}, &resultRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStorage{db: db}, nil
}

func (s *GormStorage) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	rec := toCampaignRecord(c)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *GormStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var rec campaignRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return rec.toModel(), nil
}

func (s *GormStorage) ListCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	var recs []campaignRecord
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}

	campaigns := make([]*models.Campaign, 0, len(recs))
	for i := range recs {
		campaigns = append(campaigns, recs[i].toModel())
	}
	return campaigns, nil
}

func (s *GormStorage) AppendResult(ctx context.Context, r *models.CampaignResult) error {
	rec := resultRecord{
		ID:             r.ID,
		CampaignID:     r.CampaignID,
		TupleIndex:     r.TupleIndex,
		PayloadSet:     r.PayloadSet,
		StatusCode:     r.StatusCode,
		ResponseLength: r.ResponseLength,
		ResponseTime:   r.ResponseTime,
		Title:          r.Title,
		Forms:          r.Forms,
		Flags:          r.Flags,
		Error:          r.Error,
		Timestamp:      r.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

func (s *GormStorage) ListResults(ctx context.Context, campaignID string, filter models.ResultFilter) ([]*models.CampaignResult, error) {
	q := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if filter.StatusCode != 0 {
		q = q.Where("status_code = ?", filter.StatusCode)
	}
	if filter.MinLength > 0 {
		q = q.Where("response_length >= ?", filter.MinLength)
	}
	if filter.MaxLength > 0 {
		q = q.Where("response_length <= ?", filter.MaxLength)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var recs []resultRecord
	if err := q.Order("seq").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	results := make([]*models.CampaignResult, 0, len(recs))
	for _, rec := range recs {
		results = append(results, &models.CampaignResult{
			ID:             rec.ID,
			CampaignID:     rec.CampaignID,
			TupleIndex:     rec.TupleIndex,
			PayloadSet:     rec.PayloadSet,
			StatusCode:     rec.StatusCode,
			ResponseLength: rec.ResponseLength,
			ResponseTime:   rec.ResponseTime,
			Title:          rec.Title,
			Forms:          rec.Forms,
			Flags:          rec.Flags,
			Error:          rec.Error,
			Timestamp:      rec.Timestamp,
		})
	}
	return results, nil
}

func (s *GormStorage) TupleIndexes(ctx context.Context, campaignID string) ([]int64, error) {
	var indexes []int64
	err := s.db.WithContext(ctx).Model(&resultRecord{}).
		Where("campaign_id = ?", campaignID).
		Order("tuple_index").
		Pluck("tuple_index", &indexes).Error
	if err != nil {
		return nil, fmt.Errorf("list tuple indexes: %w", err)
	}
	return indexes, nil
}

func (s *GormStorage) TruncateResults(ctx context.Context, campaignID string, fromIndex int64) error {
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND tuple_index >= ?", campaignID, fromIndex).
		Delete(&resultRecord{}).Error
	if err != nil {
		return fmt.Errorf("truncate results: %w", err)
	}
	return nil
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toCampaignRecord(c *models.Campaign) campaignRecord {
	return campaignRecord{
		ID:                c.ID,
		Name:              c.Name,
		RequestTemplate:   c.RequestTemplate,
		Marker:            c.Marker,
		Target:            c.Target,
		Positions:         c.Positions,
		Bindings:          c.Bindings,
		AttackType:        string(c.AttackType),
		SniperBaseline:    string(c.SniperBaseline),
		Concurrency:       c.Concurrency,
		DelayMs:           c.DelayMs,
		Status:            string(c.Status),
		TotalRequests:     c.TotalRequests,
		CompletedRequests: c.CompletedRequests,
		FailedRequests:    c.FailedRequests,
		NextIndex:         c.NextIndex,
		CreatedAt:         c.CreatedAt,
		StartedAt:         c.StartedAt,
		CompletedAt:       c.CompletedAt,
	}
}

func (r *campaignRecord) toModel() *models.Campaign {
	return &models.Campaign{
		ID:                r.ID,
		Name:              r.Name,
		RequestTemplate:   r.RequestTemplate,
		Marker:            r.Marker,
		Target:            r.Target,
		Positions:         r.Positions,
		Bindings:          r.Bindings,
		AttackType:        models.AttackType(r.AttackType),
		SniperBaseline:    models.SniperBaseline(r.SniperBaseline),
		Concurrency:       r.Concurrency,
		DelayMs:           r.DelayMs,
		Status:            models.CampaignStatus(r.Status),
		TotalRequests:     r.TotalRequests,
		CompletedRequests: r.CompletedRequests,
		FailedRequests:    r.FailedRequests,
		NextIndex:         r.NextIndex,
		CreatedAt:         r.CreatedAt,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
	}
}
