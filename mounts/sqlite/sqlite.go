// Package sqlite stores a filesystem tree in a SQLite database, the
// persistent counterpart of the memory backend. Nodes, directory entries
// and file contents live in three tables; the modernc.org driver keeps the
// whole thing CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (CGO_ENABLED=0 compatible)

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
	"github.com/mwantia/guestvfs/log"
)

const providerName = "sqlite"

// rootInode is the fixed inode of the root directory row.
const rootInode data.BackendInodeId = 1

// SqliteFs is a database-backed filesystem. One RWMutex serializes access on
// top of the driver's own locking, keeping multi-statement operations
// atomic without long-running transactions.
type SqliteFs struct {
	mu  sync.RWMutex
	db  *sql.DB
	log *log.Logger
}

// Option configures a SqliteFs during New.
type Option func(*SqliteFs)

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *SqliteFs) {
		if logger != nil {
			s.log = logger.Named(providerName)
		}
	}
}

// New opens or creates the database. Path can be ":memory:" for tests.
func New(path string, opts ...Option) (*SqliteFs, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Backend(providerName, err)
	}

	s := &SqliteFs{
		db:  db,
		log: log.NewDiscard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Backend(providerName, err)
	}
	return s, nil
}

func (s *SqliteFs) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vfs_nodes (
		ino    INTEGER PRIMARY KEY AUTOINCREMENT,
		type   INTEGER NOT NULL,
		mode   INTEGER NOT NULL,
		uid    INTEGER NOT NULL DEFAULT 0,
		gid    INTEGER NOT NULL DEFAULT 0,
		nlink  INTEGER NOT NULL DEFAULT 1,
		atime  INTEGER NOT NULL,
		mtime  INTEGER NOT NULL,
		ctime  INTEGER NOT NULL,
		target BLOB
	);

	CREATE TABLE IF NOT EXISTS vfs_dentries (
		parent INTEGER NOT NULL,
		name   BLOB NOT NULL,
		child  INTEGER NOT NULL,
		PRIMARY KEY (parent, name)
	);

	CREATE INDEX IF NOT EXISTS idx_dentries_child ON vfs_dentries(child);

	CREATE TABLE IF NOT EXISTS vfs_contents (
		ino  INTEGER PRIMARY KEY,
		data BLOB NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Root directory, mode 0755, fixed inode.
	now := time.Now().UnixNano()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO vfs_nodes (ino, type, mode, nlink, atime, mtime, ctime)
		VALUES (?, ?, ?, 2, ?, ?, ?)
	`, int64(rootInode), int(data.TypeDirectory), 0o755, now, now, now)
	return err
}

// Close releases the database.
func (s *SqliteFs) Close() error {
	return s.db.Close()
}

func (s *SqliteFs) ProviderName() string {
	return providerName
}

func (s *SqliteFs) Capabilities() vfs.Capabilities {
	return vfs.CapsAll | vfs.CapPersistent
}

func (s *SqliteFs) Root() vfs.FsNode {
	return &sqlNode{fs: s, ino: rootInode}
}

func (s *SqliteFs) NodeByInode(id data.BackendInodeId) (vfs.FsNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ino int64
	err := s.db.QueryRow(`SELECT ino FROM vfs_nodes WHERE ino = ?`, int64(id)).Scan(&ino)
	if err != nil {
		return nil, false
	}
	return &sqlNode{fs: s, ino: id}, true
}

// insertNode creates a node row. Callers hold the write lock.
func (s *SqliteFs) insertNode(ctx context.Context, tx *sql.Tx, ft data.FileType, mode data.FileMode, target []byte) (data.BackendInodeId, error) {
	nlink := 1
	if ft.IsDir() {
		nlink = 2
	}

	now := time.Now().UnixNano()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO vfs_nodes (type, mode, nlink, atime, mtime, ctime, target)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int(ft), uint32(mode), nlink, now, now, now, target)
	if err != nil {
		return 0, errors.Backend(providerName, err)
	}

	ino, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Backend(providerName, err)
	}
	return data.BackendInodeId(ino), nil
}
