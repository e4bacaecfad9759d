// Package redis implements the substrate contract on top of Redis.
//
// Redis optimistic locking (WATCH + MULTI/EXEC) supplies the per-record
// atomic read-modify-write the contract requires: Transact watches the
// record's key, applies the transaction body, and commits through a
// transactional pipeline. If another client touches the key in between,
// EXEC aborts and the transaction is retried with exponential backoff.
//
// All keys are placed under a namespace prefix so several indexes (or
// unrelated data) can share one logical database.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	redisv9 "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/kvmux/substrate"
)

// Store is a Redis-backed substrate.
type Store struct {
	client    *redisv9.Client
	namespace string
}

var _ substrate.Store = (*Store)(nil)

// NewStore creates a Redis-backed substrate.
// namespace scopes every key; it may be empty for exclusive databases.
func NewStore(client *redisv9.Client, namespace string) *Store {
	return &Store{
		client:    client,
		namespace: namespace,
	}
}

func (s *Store) key(name string) string {
	return s.namespace + name
}

// Get returns a record's contents.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, substrate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", name, err)
	}
	return data, nil
}

// Put writes a record.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("redis put %q: %w", name, err)
	}
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("redis delete %q: %w", name, err)
	}
	return nil
}

// Transact applies fn under WATCH-based optimistic locking, retrying with
// exponential backoff when a concurrent writer aborts the transaction.
func (s *Store) Transact(ctx context.Context, name string, fn substrate.TxFunc) ([]byte, error) {
	key := s.key(name)
	var committed []byte

	attempt := func() error {
		err := s.client.Watch(ctx, func(tx *redisv9.Tx) error {
			prev, err := tx.Get(ctx, key).Bytes()
			found := true
			if errors.Is(err, redisv9.Nil) {
				prev, found = nil, false
			} else if err != nil {
				return backoff.Permanent(fmt.Errorf("redis transact %q: %w", name, err))
			}

			next, outcome, err := fn(prev, found)
			if err != nil {
				return backoff.Permanent(err)
			}

			if outcome == substrate.TxSkip {
				committed = nil
				if found {
					committed = prev
				}
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
				switch outcome {
				case substrate.TxWrite:
					pipe.Set(ctx, key, next, 0)
				case substrate.TxDelete:
					pipe.Del(ctx, key)
				}
				return nil
			})
			if err != nil {
				return err
			}
			committed = nil
			if outcome == substrate.TxWrite {
				committed = next
			}
			return nil
		}, key)

		if errors.Is(err, redisv9.TxFailedErr) {
			return err // retryable: lost the race
		}
		return err
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return committed, nil
}

// List returns record names starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, s.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis list %q: %w", prefix, err)
	}
	return names, nil
}

// Count returns the number of records in the namespace.
func (s *Store) Count(ctx context.Context) (int, error) {
	names, err := s.List(ctx, "")
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Clear removes every record in the namespace, deleting in parallel.
func (s *Store) Clear(ctx context.Context) error {
	names, err := s.List(ctx, "")
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return s.Delete(ctx, name)
		})
	}
	return g.Wait()
}
