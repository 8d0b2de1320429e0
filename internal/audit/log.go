package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/google/uuid"
)

// Log is the append-only stock ledger
type Log interface {
	// Append records one mutation. ID and CreatedAt are filled in when empty.
	Append(ctx context.Context, entry domain.AuditEntry) error

	// ListByReference returns entries for an order or purchase order, oldest first
	ListByReference(ctx context.Context, referenceID string) ([]domain.AuditEntry, error)

	// ListByProduct returns the newest entries for a product, newest first
	ListByProduct(ctx context.Context, productID string, limit int) ([]domain.AuditEntry, error)
}

func prepare(entry *domain.AuditEntry) error {
	if entry.ProductID == "" || entry.Action == "" || entry.Quantity <= 0 {
		return domain.InvalidInput("audit entry needs product, action and a positive quantity")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return nil
}

// MemoryLog implements Log in memory
type MemoryLog struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, entry domain.AuditEntry) error {
	if err := prepare(&entry); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryLog) ListByReference(_ context.Context, referenceID string) ([]domain.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.AuditEntry
	for _, e := range l.entries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryLog) ListByProduct(_ context.Context, productID string, limit int) ([]domain.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ProductID != productID {
			continue
		}
		out = append(out, l.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Entries returns a copy of every entry in append order
func (l *MemoryLog) Entries() []domain.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Replay folds entries for one stock record into its final counters, starting from base
func Replay(base domain.Snapshot, entries []domain.AuditEntry) domain.Snapshot {
	sorted := make([]domain.AuditEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	s := base
	for _, e := range sorted {
		s.StockQuantity += e.After.StockQuantity - e.Before.StockQuantity
		s.ReservedQuantity += e.After.ReservedQuantity - e.Before.ReservedQuantity
	}
	return s
}
