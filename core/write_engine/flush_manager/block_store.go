package flushmanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	_ "modernc.org/sqlite"

	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// BlockStore persists reconciled page images, keyed by tree name and page address.
type BlockStore interface {
	WriteBlock(ctx context.Context, tree string, addr pagemanager.PageID, image []byte) error
	ReadBlock(ctx context.Context, tree string, addr pagemanager.PageID) ([]byte, error)
	Close() error
}

type blockKey struct {
	tree string
	addr pagemanager.PageID
}

// MemBlockStore keeps images in memory. Safe for concurrent use.
type MemBlockStore struct {
	blocks *xsync.MapOf[blockKey, []byte]
}

func NewMemBlockStore() *MemBlockStore {
	return &MemBlockStore{blocks: xsync.NewMapOf[blockKey, []byte]()}
}

func (s *MemBlockStore) WriteBlock(_ context.Context, tree string, addr pagemanager.PageID, image []byte) error {
	s.blocks.Store(blockKey{tree: tree, addr: addr}, append([]byte(nil), image...))
	return nil
}

func (s *MemBlockStore) ReadBlock(_ context.Context, tree string, addr pagemanager.PageID) ([]byte, error) {
	image, ok := s.blocks.Load(blockKey{tree: tree, addr: addr})
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrBlockNotFound, tree, addr)
	}
	return append([]byte(nil), image...), nil
}

// Len returns the number of stored blocks.
func (s *MemBlockStore) Len() int { return s.blocks.Size() }

func (s *MemBlockStore) Close() error { return nil }

// SQLiteBlockStore keeps images in a sqlite database file.
type SQLiteBlockStore struct {
	db *sql.DB
}

const createBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
	tree  TEXT    NOT NULL,
	addr  INTEGER NOT NULL,
	image BLOB    NOT NULL,
	PRIMARY KEY (tree, addr)
)`

// OpenSQLiteBlockStore opens (creating if needed) a block store at path.
func OpenSQLiteBlockStore(path string) (*SQLiteBlockStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite block store %s: %w", path, err)
	}
	// One writer; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createBlocksTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blocks table: %w", err)
	}
	return &SQLiteBlockStore{db: db}, nil
}

func (s *SQLiteBlockStore) WriteBlock(ctx context.Context, tree string, addr pagemanager.PageID, image []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (tree, addr, image) VALUES (?, ?, ?)
		 ON CONFLICT (tree, addr) DO UPDATE SET image = excluded.image`,
		tree, int64(addr), image)
	if err != nil {
		return fmt.Errorf("write block %s/%d: %w", tree, addr, err)
	}
	return nil
}

func (s *SQLiteBlockStore) ReadBlock(ctx context.Context, tree string, addr pagemanager.PageID) ([]byte, error) {
	var image []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT image FROM blocks WHERE tree = ? AND addr = ?`, tree, int64(addr)).Scan(&image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%d", ErrBlockNotFound, tree, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("read block %s/%d: %w", tree, addr, err)
	}
	return image, nil
}

func (s *SQLiteBlockStore) Close() error {
	return s.db.Close()
}
