package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/refund"
)

// MemoryStore is an in-memory refund repository. It backs tests and local
// development; nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	refunds map[string]*refund.Refund
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{refunds: make(map[string]*refund.Refund)}
}

// Create stores a new refund. The ID must be unused.
func (s *MemoryStore) Create(ctx context.Context, r *refund.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.refunds[r.ID]; exists {
		return errors.NewBusinessError(errors.ErrCodeDuplicateRefund,
			"refund "+r.ID+" already exists", "use a fresh refund ID")
	}
	s.refunds[r.ID] = cloneRefund(r)
	return nil
}

// Update overwrites an existing refund.
func (s *MemoryStore) Update(ctx context.Context, r *refund.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.refunds[r.ID]; !exists {
		return refund.NotFoundError(r.ID)
	}
	s.refunds[r.ID] = cloneRefund(r)
	return nil
}

// FindByID returns a copy of the stored refund.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*refund.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, refund.NotFoundError(id)
	}
	return cloneRefund(r), nil
}

// FindByMerchant returns the merchant's refunds, newest first.
func (s *MemoryStore) FindByMerchant(ctx context.Context, merchantID string, page refund.Page) ([]*refund.Refund, error) {
	return s.Search(ctx, refund.Query{MerchantID: merchantID}, page)
}

// Search filters the stored refunds, newest first.
func (s *MemoryStore) Search(ctx context.Context, q refund.Query, page refund.Page) ([]*refund.Refund, error) {
	s.mu.RLock()
	var matched []*refund.Refund
	for _, r := range s.refunds {
		if matches(r, q) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	matched = paginate(matched, page)
	out := make([]*refund.Refund, len(matched))
	for i, r := range matched {
		out[i] = cloneRefund(r)
	}
	return out, nil
}

func matches(r *refund.Refund, q refund.Query) bool {
	if q.MerchantID != "" && r.MerchantID != q.MerchantID {
		return false
	}
	if q.TransactionID != "" && r.TransactionID != q.TransactionID {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.Method != "" && r.Method != q.Method {
		return false
	}
	if q.CreatedAfter != nil && r.CreatedAt.Before(*q.CreatedAfter) {
		return false
	}
	if q.CreatedBefore != nil && r.CreatedAt.After(*q.CreatedBefore) {
		return false
	}
	return true
}

func paginate(rs []*refund.Refund, page refund.Page) []*refund.Refund {
	if page.Offset < 0 {
		page.Offset = 0
	}
	if page.Offset >= len(rs) {
		return nil
	}
	rs = rs[page.Offset:]
	if page.Limit > 0 && page.Limit < len(rs) {
		rs = rs[:page.Limit]
	}
	return rs
}

// cloneRefund deep-copies the mutable parts so callers cannot alias the
// stored entity.
func cloneRefund(r *refund.Refund) *refund.Refund {
	c := *r
	if r.StatusHistory != nil {
		c.StatusHistory = append([]refund.StatusChange(nil), r.StatusHistory...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.SupportingDocuments != nil {
		c.SupportingDocuments = append([]string(nil), r.SupportingDocuments...)
	}
	return &c
}
