// Package storage persists campaigns and their results.
package storage

import (
	"context"

	"github.com/BetterCallFirewall/Intruder/internal/models"
)

// Store is the persistence service used by the campaign manager.
// Implementations return copies: callers may mutate what they get back.
type Store interface {
	// SaveCampaign inserts or replaces a campaign
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	// GetCampaign returns models.ErrCampaignNotFound for unknown ids
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	// ListCampaigns returns campaigns ordered by creation time
	ListCampaigns(ctx context.Context) ([]*models.Campaign, error)

	// AppendResult stores one result. Results are listed in append order.
	AppendResult(ctx context.Context, r *models.CampaignResult) error
	ListResults(ctx context.Context, campaignID string, filter models.ResultFilter) ([]*models.CampaignResult, error)
	// TupleIndexes returns the tuple index of every stored result in ascending order
	TupleIndexes(ctx context.Context, campaignID string) ([]int64, error)
	// TruncateResults deletes results whose tuple index is >= fromIndex
	TruncateResults(ctx context.Context, campaignID string, fromIndex int64) error

	Close() error
}
