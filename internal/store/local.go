package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
)

const (
	projectKeyPrefix = "project/"
	shareKeyPrefix   = "share/"
)

// LocalConfig configures the Badger-backed local store
type LocalConfig struct {
	// Path is the data directory. Required unless InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// DefaultLocalConfig returns a durable configuration rooted at path
func DefaultLocalConfig(path string) LocalConfig {
	return LocalConfig{Path: path, SyncWrites: true}
}

// InMemoryLocalConfig returns a configuration for tests and ephemeral servers
func InMemoryLocalConfig() LocalConfig {
	return LocalConfig{InMemory: true}
}

// badgerLogger routes Badger's internal logging through zap
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// LocalStore is a single-node ProjectStore on an embedded Badger database
type LocalStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenLocal opens a LocalStore
func OpenLocal(cfg LocalConfig) (*LocalStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent local store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create local store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{s: cfg.Logger.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return &LocalStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// RunGC reclaims value log space. Badger's ErrNoRewrite is not an error here.
func (s *LocalStore) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return fmt.Errorf("failed to run local store gc: %w", err)
	}
	return nil
}

func projectKey(id string) []byte { return []byte(projectKeyPrefix + id) }
func shareKey(id string) []byte   { return []byte(shareKeyPrefix + id) }

func readProject(txn *badger.Txn, id string) (*models.Project, error) {
	item, err := txn.Get(projectKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project %s: %w", id, err)
	}
	var p models.Project
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode project %s: %w", id, err)
	}
	return &p, nil
}

func writeProject(txn *badger.Txn, p *models.Project, previousShare *string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode project %s: %w", p.ID, err)
	}
	if err := txn.Set(projectKey(p.ID), data); err != nil {
		return fmt.Errorf("failed to write project %s: %w", p.ID, err)
	}
	if previousShare != nil && (p.ShareID == nil || *p.ShareID != *previousShare) {
		if err := txn.Delete(shareKey(*previousShare)); err != nil {
			return fmt.Errorf("failed to drop share index: %w", err)
		}
	}
	if p.ShareID != nil {
		if err := txn.Set(shareKey(*p.ShareID), []byte(p.ID)); err != nil {
			return fmt.Errorf("failed to write share index: %w", err)
		}
	}
	return nil
}

// GetProjects returns the owner's projects, most recently updated first
func (s *LocalStore) GetProjects(ctx context.Context, ownerID string) ([]*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	projects := []*models.Project{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(projectKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var p models.Project
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return fmt.Errorf("failed to decode project: %w", err)
			}
			if p.OwnerID == ownerID {
				projects = append(projects, &p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects, nil
}

// GetProject returns the project with id or ErrNotFound
func (s *LocalStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *models.Project
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = readProject(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProject stores a new project. Creating an existing id fails.
func (s *LocalStore) CreateProject(ctx context.Context, project *models.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if project.ID == "" {
		return errors.New("failed to create project: id is required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(projectKey(project.ID)); err == nil {
			return fmt.Errorf("failed to create project %s: %w", project.ID, ErrConflict)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to create project: %w", err)
		}
		return writeProject(txn, project, nil)
	})
}

// UpdateProject applies a partial update
func (s *LocalStore) UpdateProject(ctx context.Context, id string, update ProjectUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		p, err := readProject(txn, id)
		if err != nil {
			return err
		}
		prevShare := p.ShareID
		update.Apply(p, s.now())
		return writeProject(txn, p, prevShare)
	})
}

// DeleteProject removes a project and its share index entry
func (s *LocalStore) DeleteProject(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		p, err := readProject(txn, id)
		if err != nil {
			return err
		}
		if p.ShareID != nil {
			if err := txn.Delete(shareKey(*p.ShareID)); err != nil {
				return fmt.Errorf("failed to drop share index: %w", err)
			}
		}
		if err := txn.Delete(projectKey(id)); err != nil {
			return fmt.Errorf("failed to delete project %s: %w", id, err)
		}
		return nil
	})
}

// GetProjectByShareID returns the public project published under shareID
func (s *LocalStore) GetProjectByShareID(ctx context.Context, shareID string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *models.Project
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(shareKey(shareID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read share index: %w", err)
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to read share index: %w", err)
		}
		p, err = readProject(txn, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if !p.IsPublic {
		return nil, ErrNotFound
	}
	return p, nil
}

var _ ProjectStore = (*LocalStore)(nil)
