package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore guarda el ultimo disparo por trigger de autonomia. La
// variante Redis sobrevive reinicios; la de memoria es el default local.
type CooldownStore interface {
	LastFired(name string) (time.Time, bool)
	MarkFired(name string, at time.Time)
}

type memoryCooldownStore struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewMemoryCooldownStore() CooldownStore {
	return &memoryCooldownStore{
		items: make(map[string]time.Time),
	}
}

func (s *memoryCooldownStore) LastFired(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.items[name]
	return at, ok
}

func (s *memoryCooldownStore) MarkFired(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return
	}
	s.items[name] = at.UTC()
}

type redisCooldownStore struct {
	client redisCmdable
	prefix string
	ttl    time.Duration
}

type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// NewRedisCooldownStore construye el store sobre Redis. Con cliente nil
// devuelve nil para que el caller caiga al store en memoria.
func NewRedisCooldownStore(client *redis.Client, ttl time.Duration) CooldownStore {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisCooldownStore{
		client: client,
		prefix: "affect:cooldown:",
		ttl:    ttl,
	}
}

// LastFired con Redis caido responde "nunca": preferimos un mensaje autonomo
// de mas antes que silenciar triggers por una dependencia externa.
func (s *redisCooldownStore) LastFired(name string) (time.Time, bool) {
	if s == nil || s.client == nil {
		return time.Time{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	raw, err := s.client.Get(ctx, s.prefix+name).Result()
	if err != nil {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

func (s *redisCooldownStore) MarkFired(name string, at time.Time) {
	if s == nil || s.client == nil || strings.TrimSpace(name) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	s.client.Set(ctx, s.prefix+name, at.UTC().Format(time.RFC3339Nano), s.ttl)
}
