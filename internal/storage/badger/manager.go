package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/common"
	"github.com/mirageapp/mirage/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db               *BadgerDB
	logger           arbor.ILogger
	jobStorage       interfaces.JobStorage
	userStorage      interfaces.UserStorage
	narrationStorage interfaces.NarrationStorage
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:               db,
		logger:           logger,
		jobStorage:       NewJobStorage(db, logger),
		userStorage:      NewUserStorage(db, logger),
		narrationStorage: NewNarrationStorage(db, logger),
	}, nil
}

// JobStorage returns the scenario job storage
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobStorage
}

// UserStorage returns the user aggregate state storage
func (m *Manager) UserStorage() interfaces.UserStorage {
	return m.userStorage
}

// NarrationStorage returns the narration cache storage
func (m *Manager) NarrationStorage() interfaces.NarrationStorage {
	return m.narrationStorage
}

// DB returns the underlying database wrapper (queue manager shares it)
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
