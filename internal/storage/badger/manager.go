package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	job      interfaces.JobStorage
	session  interfaces.SessionStorage
	pattern  interfaces.PatternStorage
	fileMeta interfaces.FileMetadataStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		job:      NewJobStorage(db, logger),
		session:  NewSessionStorage(db, logger),
		pattern:  NewPatternStorage(db, logger),
		fileMeta: NewFileMetadataStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// SessionStorage returns the Session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// PatternStorage returns the Pattern storage interface
func (m *Manager) PatternStorage() interfaces.PatternStorage {
	return m.pattern
}

// FileMetadataStorage returns the FileMetadata storage interface
func (m *Manager) FileMetadataStorage() interfaces.FileMetadataStorage {
	return m.fileMeta
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
