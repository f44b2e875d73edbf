package infra

import (
	"fmt"
	"sync"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Store é um cache de limiters por chave, criados sob demanda pela Factory,
// com limpeza periódica de chaves ociosas.
//
// Limiters removidos (por ociosidade ou Close) são fechados, o que acorda quem
// ainda estiver esperando neles.
type Store struct {
	mu           sync.Mutex
	entries      map[string]*storeEntry
	factory      Factory
	idleTTL      time.Duration
	cleanupEvery time.Duration
	log          *zap.Logger
	closed       bool
}

type storeEntry struct {
	lim      domain.RateLimiter
	lastSeen time.Time
}

type StoreOption func(*Store)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

func WithStoreLogger(log *zap.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func NewStore(factory Factory, opts ...StoreOption) *Store {
	s := &Store{
		entries:      make(map[string]*storeEntry),
		factory:      factory,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CleanupEvery() time.Duration { return s.cleanupEvery }

// Len é o número de chaves em cache.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get implementa domain.LimiterStore.
func (s *Store) Get(key domain.Key) (domain.RateLimiter, error) {
	now := time.Now()
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domain.ErrClosed
	}
	if ent, ok := s.entries[k]; ok {
		ent.lastSeen = now
		return ent.lim, nil
	}

	lim, err := s.factory()
	if err != nil {
		return nil, err
	}
	s.entries[k] = &storeEntry{lim: lim, lastSeen: now}
	s.log.Debug("throttle limiter created", zap.String("key", k), zap.Stringer("limiter", describe(lim)))
	return lim, nil
}

// pendingReporter é implementado por limiters que sabem se ainda devem tempo
// virtual a reservas já concedidas.
type pendingReporter interface {
	Pending() bool
}

// Cleanup remove e fecha os limiters ociosos há mais de idleTTL. Um limiter
// com reservas pendentes fica no cache: fechá-lo acordaria quem espera nele e
// o substituto começaria sem o débito, deixando passar acima da taxa.
func (s *Store) Cleanup() {
	now := time.Now()
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	var evicted []domain.RateLimiter
	kept := 0
	for k, ent := range s.entries {
		if !ent.lastSeen.Before(cutoff) {
			continue
		}
		if p, ok := ent.lim.(pendingReporter); ok && p.Pending() {
			kept++
			continue
		}
		evicted = append(evicted, ent.lim)
		delete(s.entries, k)
	}
	s.mu.Unlock()

	for _, lim := range evicted {
		_ = lim.Close()
	}
	if len(evicted) > 0 || kept > 0 {
		s.log.Debug("throttle limiters evicted", zap.Int("count", len(evicted)), zap.Int("keptPending", kept))
	}
}

// Close fecha todos os limiters; Get passa a falhar com domain.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*storeEntry)
	s.closed = true
	s.mu.Unlock()

	for _, ent := range entries {
		_ = ent.lim.Close()
	}
	return nil
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}

type stringer string

func (s stringer) String() string { return string(s) }

func describe(lim domain.RateLimiter) fmt.Stringer {
	if sv, ok := lim.(fmt.Stringer); ok {
		return sv
	}
	return stringer("limiter")
}
