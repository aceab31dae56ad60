package repository

import (
	"context"
)

// Repository is a typed view of a Session for one entity type
type Repository[T any] struct {
	session *Session
}

// NewRepository returns a repository of T. T must be part of the session's model.
func NewRepository[T any](s *Session) (*Repository[T], error) {
	if _, err := s.model.Entity(new(T)); err != nil {
		return nil, err
	}
	return &Repository[T]{session: s}, nil
}

// Session returns the underlying session
func (r *Repository[T]) Session() *Session {
	return r.session
}

// Add tracks entity as a new row
func (r *Repository[T]) Add(entity *T) (*Entry, error) {
	return r.session.Add(entity)
}

// Attach tracks entity as an existing row
func (r *Repository[T]) Attach(entity *T) (*Entry, error) {
	return r.session.Attach(entity)
}

// Update marks every column of entity modified
func (r *Repository[T]) Update(entity *T) (*Entry, error) {
	return r.session.Update(entity)
}

// Remove marks entity deleted
func (r *Repository[T]) Remove(entity *T) (*Entry, error) {
	return r.session.Remove(entity)
}

// Entry returns the entry tracking entity, or nil
func (r *Repository[T]) Entry(entity *T) *Entry {
	return r.session.Entry(entity)
}

// Tracked returns the tracked entities of type T, in tracking order
func (r *Repository[T]) Tracked() []*T {
	var out []*T
	for _, e := range r.session.entries {
		if v, ok := e.ptr.(*T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Save saves every pending change of the session, not only those of T
func (r *Repository[T]) Save(ctx context.Context) (int, error) {
	return r.session.SaveChanges(ctx)
}
