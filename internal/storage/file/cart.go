// Package file persists cart snapshots as one file per session.
package file

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/xenking/birdfarm-cart/internal/domain/cart"
)

// CartStore writes snapshots below a directory. File names are the
// base64url-encoded session ids, so any id maps to a safe name.
type CartStore struct {
	dir string
}

// NewCartStore creates dir if needed and returns a CartStore rooted at it.
func NewCartStore(dir string) (*CartStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cart dir: %w", err)
	}
	return &CartStore{dir: dir}, nil
}

// Persister returns the cart.Persister for sessionID.
func (s *CartStore) Persister(sessionID string) cart.Persister {
	name := base64.RawURLEncoding.EncodeToString([]byte(sessionID)) + ".json"
	return &persister{dir: s.dir, path: filepath.Join(s.dir, name)}
}

// Ping checks that the directory is still writable.
func (s *CartStore) Ping(context.Context) error {
	f, err := os.CreateTemp(s.dir, ".ping-*")
	if err != nil {
		return fmt.Errorf("cart dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

var _ cart.Persister = (*persister)(nil)

type persister struct {
	dir  string
	path string
}

func (p *persister) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cart.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	return data, nil
}

// Save replaces the file atomically so a crash never leaves a torn snapshot.
func (p *persister) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(p.dir, ".cart-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
