package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/phobologic/codetree/internal/model"
)

// Store loads and saves a whole tree.
type Store interface {
	// Load returns the cached tree, ErrNotFound, or an error wrapping
	// ErrMalformed.
	Load(ctx context.Context) (*model.CodeTree, error)
	Save(ctx context.Context, tree *model.CodeTree) error
}

// DefaultPath is the cache location relative to the indexed root.
const DefaultPath = ".codetree/cache.json.zst"

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func compress(tree *model.CodeTree) ([]byte, error) {
	data, err := Marshal(tree)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(data, nil), nil
}

func decompress(data []byte, root string) (*model.CodeTree, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Unmarshal(raw, root)
}

// FileStore keeps the tree as a zstd-compressed JSON document in one file.
type FileStore struct {
	path string
	root string
}

// NewFileStore returns a store writing to path for trees rooted at root.
func NewFileStore(path, root string) *FileStore {
	return &FileStore{path: path, root: root}
}

// Path returns the cache file location.
func (s *FileStore) Path() string { return s.path }

// Load reads and validates the cache file.
func (s *FileStore) Load(ctx context.Context) (*model.CodeTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}
	return decompress(data, s.root)
}

// Save writes the tree atomically: a temp file in the same directory is
// renamed over the previous cache.
func (s *FileStore) Save(ctx context.Context, tree *model.CodeTree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := compress(tree)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing cache: %w", err)
	}
	return nil
}

var (
	boltBucket = []byte("codetree")
	boltKey    = []byte("tree")
)

// BoltStore keeps the compressed document in a bbolt database, for hosts
// that already embed one.
type BoltStore struct {
	db   *bolt.DB
	root string
}

// OpenBoltStore opens (creating if needed) the database at path.
func OpenBoltStore(path, root string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}
	return &BoltStore{db: db, root: root}, nil
}

// Load reads and validates the stored tree.
func (s *BoltStore) Load(ctx context.Context) (*model.CodeTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		if v := b.Get(boltKey); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading cache db: %w", err)
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return decompress(data, s.root)
}

// Save replaces the stored tree in one transaction.
func (s *BoltStore) Save(ctx context.Context, tree *model.CodeTree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := compress(tree)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return b.Put(boltKey, data)
	})
}

// Close releases the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
