package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/common"
	"github.com/melodana/songforge/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	job    interfaces.JobStorage
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	jobStorage, err := NewJobStorage(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	manager := &Manager{
		db:     db,
		job:    jobStorage,
		kv:     NewKVStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")
	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// Close closes the database connection
func (m *Manager) Close() error {
	if js, ok := m.job.(*JobStorage); ok {
		if err := js.Release(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to release job sequence")
		}
	}
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
