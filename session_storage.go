package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-liveness-relay/capture"

	"github.com/redis/go-redis/v9"
)

const DefaultSessionTTL time.Duration = 10 * time.Minute

type storedSession struct {
	identity  capture.Identity
	expiresAt time.Time
}

type InMemorySessionStorage struct {
	sessions map[string]storedSession
	ttl      time.Duration
	now      func() time.Time
	mutex    sync.Mutex
}

func NewInMemorySessionStorage(ttl time.Duration) *InMemorySessionStorage {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &InMemorySessionStorage{
		sessions: make(map[string]storedSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

type RedisSessionStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisSessionStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisSessionStorage {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStorage{client: client, namespace: namespace, ttl: ttl}
}

// Should be safe to use in concurrency
type SessionStorage interface {
	// Store the identity for the given sessionId.
	// Storing an existing sessionId overwrites it and renews its expiry.
	StoreSession(sessionId string, identity capture.Identity) error

	// Should retrieve the identity for the given sessionId
	// and return an error when it is missing or expired.
	RetrieveSession(sessionId string) (capture.Identity, error)

	// Should remove the session and return an error if it fails to do so.
	// The session not being there should also be considered an error.
	RemoveSession(sessionId string) error
}

// ------------------------------------------------------------------------------

func createKey(namespace, sessionId string) string {
	return fmt.Sprintf("%s:session:%s", namespace, sessionId)
}

func (s *RedisSessionStorage) StoreSession(sessionId string, identity capture.Identity) error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ctx := context.Background()
	return s.client.Set(ctx, createKey(s.namespace, sessionId), payload, s.ttl).Err()
}

func (s *RedisSessionStorage) RetrieveSession(sessionId string) (capture.Identity, error) {
	ctx := context.Background()
	payload, err := s.client.Get(ctx, createKey(s.namespace, sessionId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return capture.Identity{}, fmt.Errorf("failed to find session %s", sessionId)
	}
	if err != nil {
		return capture.Identity{}, err
	}

	var identity capture.Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return capture.Identity{}, fmt.Errorf("failed to unmarshal session %s: %w", sessionId, err)
	}
	return identity, nil
}

func (s *RedisSessionStorage) RemoveSession(sessionId string) error {
	ctx := context.Background()
	removed, err := s.client.Del(ctx, createKey(s.namespace, sessionId)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("failed to remove session %s, because it wasn't there", sessionId)
	}
	return nil
}

// ------------------------------------------------------------------------------

func (s *InMemorySessionStorage) StoreSession(sessionId string, identity capture.Identity) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[sessionId] = storedSession{identity: identity, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemorySessionStorage) RetrieveSession(sessionId string) (capture.Identity, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	session, ok := s.sessions[sessionId]
	if !ok {
		return capture.Identity{}, fmt.Errorf("failed to find session %s", sessionId)
	}
	if !s.now().Before(session.expiresAt) {
		delete(s.sessions, sessionId)
		return capture.Identity{}, fmt.Errorf("session %s expired", sessionId)
	}
	return session.identity, nil
}

func (s *InMemorySessionStorage) RemoveSession(sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.sessions[sessionId]; ok {
		delete(s.sessions, sessionId)
		return nil
	} else {
		return fmt.Errorf("failed to remove session %s, because it wasn't there", sessionId)
	}
}
