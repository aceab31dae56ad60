// Package save4go saves changes to Go structs through an ordered, batched
// update pipeline with optimistic concurrency checks.
package save4go

import (
	"github.com/ammar0144/save4go/pkg/db"
	"github.com/ammar0144/save4go/pkg/model"
	"github.com/ammar0144/save4go/pkg/redis"
	"github.com/ammar0144/save4go/pkg/repository"
	"github.com/ammar0144/save4go/pkg/update"
)

// Config represents database configuration
type Config = db.Config

// RedisConfig represents Redis configuration
type RedisConfig = redis.Config

// Session tracks entities and saves their changes
type Session = repository.Session

// NewManager creates a new database manager
func NewManager(config *Config) (*db.Manager, error) {
	return db.NewManager(config)
}

// NewRedisManager creates a new Redis manager
func NewRedisManager(config *RedisConfig) (*redis.Manager, error) {
	return redis.NewManager(config)
}

// NewModel maps the given struct types, for example
// NewModel(&Customer{}, &Order{}). Relationships between them become
// foreign keys.
func NewModel(values ...any) (*model.Model, error) {
	registry, err := model.NewRegistry(0, nil)
	if err != nil {
		return nil, err
	}
	return registry.Model(values...)
}

// NewSession creates a session over dbManager. If redisManager is nil the
// session works without a cache; otherwise rows are invalidated or written
// through after every save, following the cache strategy.
func NewSession(dbManager *db.Manager, m *model.Model, redisManager *redis.Manager, opts ...repository.Option) (*Session, error) {
	if redisManager != nil {
		opts = append([]repository.Option{repository.WithCache(redisManager, redisManager.Config().Strategy)}, opts...)
	}
	return repository.NewSession(dbManager, m, opts...)
}

// NewRepository returns a repository of T over s
func NewRepository[T any](s *Session) (*repository.Repository[T], error) {
	return repository.NewRepository[T](s)
}

// IsConcurrencyConflict reports whether a save failed because a row was
// changed or removed since it was read
func IsConcurrencyConflict(err error) bool {
	return update.IsConcurrencyConflict(err)
}
