// Package redis persists cart snapshots in Redis.
package redis

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/birdfarm-cart/internal/domain/cart"
)

// CartStore keeps one snapshot per session under "cart:<session>". Keys have
// no expiry; a cart lives until it is cleared.
type CartStore struct {
	client goredis.UniversalClient
}

// NewCartStore returns a CartStore that uses the given client.
func NewCartStore(client goredis.UniversalClient) *CartStore {
	return &CartStore{client: client}
}

// Persister returns the cart.Persister for sessionID.
func (s *CartStore) Persister(sessionID string) cart.Persister {
	return &persister{client: s.client, key: cartKey(sessionID)}
}

// Ping checks the connection.
func (s *CartStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ cart.Persister = (*persister)(nil)

type persister struct {
	client goredis.UniversalClient
	key    string
}

func (p *persister) Load(ctx context.Context) ([]byte, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cart.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", p.key, err)
	}
	return data, nil
}

func (p *persister) Save(ctx context.Context, data []byte) error {
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", p.key, err)
	}
	return nil
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}
