// Package redis holds pending KYC requests with a TTL so an initiated
// registry request expires on its own.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"civis/internal/kyc"
	"civis/pkg/platform/sentinel"
)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(userID uuid.UUID) string {
	return "kyc:pending:" + userID.String()
}

func (s *Store) Put(ctx context.Context, userID uuid.UUID, p kyc.Pending, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending request: %w", err)
	}
	if err := s.client.Set(ctx, key(userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("store pending request: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID uuid.UUID) (*kyc.Pending, error) {
	raw, err := s.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load pending request: %w", err)
	}
	var p kyc.Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pending request: %w", err)
	}
	return &p, nil
}

func (s *Store) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("delete pending request: %w", err)
	}
	return nil
}
