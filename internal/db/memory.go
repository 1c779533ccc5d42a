package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerlens/invoice-service/internal/models"
)

// MemoryStore keeps invoices in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*models.InvoiceRecord
	order    []string
	dedupIDs map[string]string
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*models.InvoiceRecord),
		dedupIDs: make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec *models.InvoiceRecord) (*models.InvoiceRecord, error) {
	stored := rec.Clone()
	if err := prepareRecord(&stored); err != nil {
		return nil, fmt.Errorf("invalid invoice record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := stored.DuplicateKey().Hash()
	if _, taken := s.dedupIDs[hash]; taken {
		return nil, models.ErrDuplicateInvoice
	}

	now := s.now()
	stored.ID = uuid.NewString()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.SourceURL = ""

	s.records[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	s.dedupIDs[hash] = stored.ID

	out := stored.Clone()
	return &out, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.InvoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, models.ErrInvoiceNotFound
	}
	out := rec.Clone()
	return &out, nil
}

func (s *MemoryStore) FindPage(ctx context.Context, page, pageSize int) ([]models.InvoiceRecord, int, error) {
	offset, limit := pageOffset(page, pageSize)

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.order)
	out := []models.InvoiceRecord{}
	for i := offset; i < total && len(out) < limit; i++ {
		out = append(out, s.records[s.order[i]].Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateByID(ctx context.Context, id string, patch models.InvoicePatch) (*models.InvoiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[id]
	if !ok {
		return nil, models.ErrInvoiceNotFound
	}

	now := s.now()
	updated, err := patch.Apply(*current, now)
	if err != nil {
		return nil, err
	}
	if err := prepareRecord(&updated); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	oldHash := current.DuplicateKey().Hash()
	newHash := updated.DuplicateKey().Hash()
	if newHash != oldHash {
		if owner, taken := s.dedupIDs[newHash]; taken && owner != id {
			return nil, models.ErrDuplicateInvoice
		}
		delete(s.dedupIDs, oldHash)
		s.dedupIDs[newHash] = id
	}

	updated.UpdatedAt = now
	s.records[id] = &updated

	out := updated.Clone()
	return &out, nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, id string) (*models.InvoiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, models.ErrInvoiceNotFound
	}
	delete(s.records, id)
	delete(s.dedupIDs, rec.DuplicateKey().Hash())
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	out := rec.Clone()
	return &out, nil
}

func (s *MemoryStore) FindDuplicate(ctx context.Context, key models.DuplicateKey) (*models.InvoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		rec := s.records[id]
		if key.Matches(rec) {
			out := rec.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SummarizeByCategory(ctx context.Context) ([]models.CategorySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type bucket struct {
		total decimal.Decimal
		count int
	}
	buckets := make(map[string]*bucket)
	for _, rec := range s.records {
		b, ok := buckets[rec.Category.Name]
		if !ok {
			b = &bucket{}
			buckets[rec.Category.Name] = b
		}
		b.total = b.total.Add(decimal.NewFromFloat(rec.Total))
		b.count++
	}

	summaries := make([]models.CategorySummary, 0, len(buckets))
	for name, b := range buckets {
		total, _ := b.total.Float64()
		summaries = append(summaries, models.CategorySummary{ID: name, TotalAmount: total, Count: b.count})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}
