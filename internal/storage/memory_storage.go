package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/BetterCallFirewall/Intruder/internal/models"
)

type MemoryStorage struct {
	campaigns map[string]*models.Campaign
	results   map[string][]*models.CampaignResult
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		campaigns: make(map[string]*models.Campaign),
		results:   make(map[string][]*models.CampaignResult),
	}
}

func (s *MemoryStorage) SaveCampaign(_ context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStorage) GetCampaign(_ context.Context, id string) (*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, models.ErrCampaignNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStorage) ListCampaigns(_ context.Context) ([]*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	campaigns := make([]*models.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		campaigns = append(campaigns, c.Clone())
	}
	sort.Slice(campaigns, func(i, j int) bool {
		if campaigns[i].CreatedAt.Equal(campaigns[j].CreatedAt) {
			return campaigns[i].ID < campaigns[j].ID
		}
		return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt)
	})
	return campaigns, nil
}

func (s *MemoryStorage) AppendResult(_ context.Context, r *models.CampaignResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.CampaignID] = append(s.results[r.CampaignID], &cp)
	return nil
}

func (s *MemoryStorage) ListResults(_ context.Context, campaignID string, filter models.ResultFilter) ([]*models.CampaignResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		out     []*models.CampaignResult
		skipped int
	)
	for _, r := range s.results[campaignID] {
		if !filter.Match(r) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		cp := *r
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStorage) TupleIndexes(_ context.Context, campaignID string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexes := make([]int64, 0, len(s.results[campaignID]))
	for _, r := range s.results[campaignID] {
		indexes = append(indexes, r.TupleIndex)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes, nil
}

func (s *MemoryStorage) TruncateResults(_ context.Context, campaignID string, fromIndex int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.results[campaignID][:0]
	for _, r := range s.results[campaignID] {
		if r.TupleIndex < fromIndex {
			kept = append(kept, r)
		}
	}
	s.results[campaignID] = kept
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
