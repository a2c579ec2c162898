package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
)

// BudgetStorage implements the BudgetStorage interface for Badger. Ledger
// entries are append-only; this layer never updates or deletes them.
type BudgetStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBudgetStorage creates a new BudgetStorage instance
func NewBudgetStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BudgetStorage {
	return &BudgetStorage{
		db:     db,
		logger: logger,
	}
}

func (s *BudgetStorage) AppendEntry(ctx context.Context, entry *models.BudgetEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid budget entry: %w", err)
	}

	// Insert, never Upsert - an existing key means a duplicate write and is
	// rejected to keep the ledger append-only.
	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("budget entry %s already recorded", entry.ID)
		}
		return fmt.Errorf("failed to append budget entry: %w", err)
	}
	return nil
}

func (s *BudgetStorage) EntriesForCaller(ctx context.Context, callerID string, start, end *time.Time) ([]*models.BudgetEntry, error) {
	query := badgerhold.Where("CallerID").Eq(callerID).Index("CallerID")
	if start != nil {
		query = query.And("CreatedAt").Ge(*start)
	}
	if end != nil {
		query = query.And("CreatedAt").Lt(*end)
	}

	var entries []models.BudgetEntry
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to query budget entries: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	result := make([]*models.BudgetEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *BudgetStorage) GetLimit(ctx context.Context, callerID string) (*models.BudgetLimit, error) {
	var limit models.BudgetLimit
	if err := s.db.Store().Get(callerID, &limit); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get budget limit: %w", err)
	}
	return &limit, nil
}

func (s *BudgetStorage) SaveLimit(ctx context.Context, limit *models.BudgetLimit) error {
	if limit == nil || limit.CallerID == "" {
		return fmt.Errorf("caller ID is required")
	}
	if err := s.db.Store().Upsert(limit.CallerID, limit); err != nil {
		return fmt.Errorf("failed to save budget limit: %w", err)
	}
	return nil
}
