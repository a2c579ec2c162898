package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
)

// Manager implements the StorageManager interface over a single BadgerDB
// connection shared by all storage backends.
type Manager struct {
	db            *BadgerDB
	jobStorage    interfaces.JobStorage
	budgetStorage interfaces.BudgetStorage
	logger        arbor.ILogger
}

// NewManager opens the database and wires the storage backends.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:            db,
		jobStorage:    NewJobStorage(db, logger),
		budgetStorage: NewBudgetStorage(db, logger),
		logger:        logger,
	}, nil
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobStorage
}

func (m *Manager) BudgetStorage() interfaces.BudgetStorage {
	return m.budgetStorage
}

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing storage manager")
	return m.db.Close()
}
