// Package repository tracks changes to Go structs and saves them through the
// update pipeline.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ammar0144/save4go/pkg/db"
	"github.com/ammar0144/save4go/pkg/model"
	"github.com/ammar0144/save4go/pkg/redis"
	"github.com/ammar0144/save4go/pkg/update"
)

// RowCache receives the rows of a committed save. *redis.Manager implements it.
type RowCache interface {
	InvalidateRow(ctx context.Context, database, table, key string) error
	WriteRow(ctx context.Context, database, table, key string, snapshot any) error
	AddRowDependency(ctx context.Context, database, table, key, principalTable, principalKey string) error
}

// Session is a unit of work: it tracks entities, detects their changes and
// saves them in one SaveChanges call. It is not safe for concurrent use.
type Session struct {
	manager  *db.Manager
	model    *model.Model
	renderer update.StatementRenderer
	conn     *db.Connection // Set when saving inside a caller's transaction

	cache    RowCache
	strategy redis.CacheStrategy

	executorOpts []update.ExecutorOption
	logger       *log.Entry

	entries  []*Entry
	byPtr    map[any]*Entry
	nextTemp int64
}

// Option configures a Session
type Option func(*Session)

// WithCache updates cache after every committed save
func WithCache(cache RowCache, strategy redis.CacheStrategy) Option {
	return func(s *Session) {
		s.cache, s.strategy = cache, strategy
	}
}

// WithTransaction saves inside tx. The caller commits or rolls it back.
func WithTransaction(tx *sql.Tx) Option {
	return func(s *Session) {
		s.conn = s.manager.NewConnection()
		s.conn.UseTransaction(tx)
	}
}

// WithLogger sets the base entry for log lines
func WithLogger(entry *log.Entry) Option {
	return func(s *Session) {
		s.logger = entry
	}
}

// WithMetrics records executed batches into m
func WithMetrics(m *update.Metrics) Option {
	return func(s *Session) {
		s.executorOpts = append(s.executorOpts, update.WithMetrics(m))
	}
}

// NewSession creates a session saving entities of m through manager
func NewSession(manager *db.Manager, m *model.Model, opts ...Option) (*Session, error) {
	if manager == nil || m == nil {
		return nil, fmt.Errorf("manager and model are required")
	}
	renderer, err := manager.Renderer()
	if err != nil {
		return nil, err
	}

	s := &Session{
		manager:  manager,
		model:    m,
		renderer: renderer,
		strategy: redis.CacheStrategyInvalidate,
		logger:   log.NewEntry(log.StandardLogger()),
		byPtr:    make(map[any]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ============================================================================
// TRACKING
// ============================================================================

// Add begins tracking entity as a new row. Store generated keys that are
// unset receive temporary values until the save.
func (s *Session) Add(entity any) (*Entry, error) {
	if _, ok := structPointer(entity); !ok {
		return nil, fmt.Errorf("entity must be a non-nil struct pointer, got %T", entity)
	}
	if e := s.byPtr[entity]; e != nil {
		if e.state == StateDeleted {
			e.state = StateModified
		}
		return e, nil
	}
	e, err := s.track(entity, StateAdded)
	if err != nil {
		return nil, err
	}
	for _, p := range e.entity.Type.PrimaryKey() {
		if p.ValueGenerated != update.ValueGeneratedNever && e.entity.IsZero(context.Background(), e.value, p) {
			s.nextTemp++
			e.temp[p] = temporaryKey(s.nextTemp)
		}
	}
	return e, nil
}

// Attach begins tracking entity as an existing, unchanged row. An entity
// whose generated key is unset is added instead.
func (s *Session) Attach(entity any) (*Entry, error) {
	if _, ok := structPointer(entity); !ok {
		return nil, fmt.Errorf("entity must be a non-nil struct pointer, got %T", entity)
	}
	if e := s.byPtr[entity]; e != nil {
		return e, nil
	}
	ent, err := s.model.Entity(entity)
	if err != nil {
		return nil, err
	}
	if s.isNew(ent, entity) {
		return s.Add(entity)
	}

	e, err := s.track(entity, StateUnchanged)
	if err != nil {
		return nil, err
	}
	e.snapshot()
	return e, nil
}

// Update marks every column of entity modified, attaching it if needed
func (s *Session) Update(entity any) (*Entry, error) {
	e, err := s.Attach(entity)
	if err != nil || e.state == StateAdded {
		return e, err
	}
	e.state, e.forced = StateModified, true
	return e, nil
}

// Remove marks entity deleted. A tracked entity that was never saved is
// simply detached.
func (s *Session) Remove(entity any) (*Entry, error) {
	e, err := s.Attach(entity)
	if err != nil {
		return nil, err
	}
	if e.state == StateAdded {
		s.detach(e)
		return e, nil
	}
	e.state = StateDeleted
	return e, nil
}

// Entry returns the entry tracking entity, or nil
func (s *Session) Entry(entity any) *Entry {
	if _, ok := structPointer(entity); !ok {
		return nil
	}
	return s.byPtr[entity]
}

// Entries returns the tracked entries in tracking order
func (s *Session) Entries() []*Entry {
	return append([]*Entry(nil), s.entries...)
}

func (s *Session) track(entity any, state EntityState) (*Entry, error) {
	v, ok := structPointer(entity)
	if !ok {
		return nil, fmt.Errorf("entity must be a non-nil struct pointer, got %T", entity)
	}
	ent, err := s.model.Entity(entity)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		session: s,
		entity:  ent,
		ptr:     entity,
		value:   v,
		state:   state,
		temp:    make(map[*update.Property]any),
	}
	s.entries = append(s.entries, e)
	s.byPtr[entity] = e
	return e, nil
}

func (s *Session) detach(e *Entry) {
	delete(s.byPtr, e.ptr)
	for i, other := range s.entries {
		if other == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	e.state = StateDetached
}

// ============================================================================
// CHANGE DETECTION
// ============================================================================

// DetectChanges follows navigations, adding reachable new entities and
// copying principal keys into dependent foreign keys, then compares tracked
// entries with their snapshots
func (s *Session) DetectChanges() error {
	ctx := context.Background()

	// Entries appended while walking are walked as well
	for i := 0; i < len(s.entries); i++ {
		e := s.entries[i]
		if e.state == StateDeleted {
			continue
		}
		for _, nav := range e.entity.Navigations() {
			for _, related := range nav.Related(ctx, e.value) {
				if err := s.fixupNavigation(e, nav, related); err != nil {
					return err
				}
			}
		}
	}

	for _, e := range s.entries {
		switch {
		case e.state == StateUnchanged && e.hasChanges():
			e.state = StateModified
		case e.state == StateModified && !e.forced && !e.hasChanges():
			e.state = StateUnchanged
		}
	}
	return nil
}

func (s *Session) fixupNavigation(e *Entry, nav *model.Navigation, related any) error {
	other := s.byPtr[related]
	if other == nil && s.isNew(nav.Target, related) {
		var err error
		if other, err = s.Add(related); err != nil {
			return err
		}
	}
	if other != nil && other.state == StateDeleted {
		return nil
	}

	if nav.OnDependent {
		return s.copyKey(nav.ForeignKey, nav.Target, related, other, e)
	}
	if other == nil {
		return nil // Untracked dependents are not changed
	}
	return s.copyKey(nav.ForeignKey, e.entity, e.ptr, e, other)
}

// copyKey sets the dependent's foreign key to the principal's current key
func (s *Session) copyKey(fk *update.ForeignKey, principal *model.Entity, ptr any, tracked, dependent *Entry) error {
	pv, _ := structPointer(ptr)
	for i, pk := range fk.PrincipalKey {
		var value any
		if tracked != nil {
			value = tracked.CurrentValue(pk)
		} else {
			value = principal.Value(context.Background(), pv, pk)
		}
		if !sameValue(dependent.CurrentValue(fk.Properties[i]), value) {
			if err := dependent.assign(fk.Properties[i], value); err != nil {
				return err
			}
		}
	}
	return nil
}

// isNew reports whether an untracked entity still needs its key generated
func (s *Session) isNew(ent *model.Entity, entity any) bool {
	v, ok := structPointer(entity)
	if !ok {
		return false
	}
	for _, p := range ent.Type.PrimaryKey() {
		if p.ValueGenerated != update.ValueGeneratedNever && ent.IsZero(context.Background(), v, p) {
			return true
		}
	}
	return false
}

// fixupDependents replaces a principal key value that just changed, usually
// a temporary key replaced by the generated one, in tracked dependents
func (s *Session) fixupDependents(principal *Entry, p *update.Property, previous, current any) error {
	for _, fk := range principal.entity.Type.ReferencingForeignKeys() {
		for i, pk := range fk.PrincipalKey {
			if pk != p {
				continue
			}
			for _, dep := range s.entries {
				if dep.entity.Type != fk.DependentType || dep.state == StateDeleted {
					continue
				}
				if sameValue(dep.CurrentValue(fk.Properties[i]), previous) {
					if err := dep.SetCurrentValue(fk.Properties[i], current); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// ============================================================================
// SAVING
// ============================================================================

// SaveChanges writes every pending change in one transaction and returns the
// number of rows affected. On success the entries are accepted; on failure
// they are left as they were before the call and the error is returned.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	logger := s.logger.WithField("save_id", uuid.NewString())

	if err := s.DetectChanges(); err != nil {
		return 0, err
	}
	pending := s.pending()
	if len(pending) == 0 {
		logger.Debug("no changes to save")
		return 0, nil
	}

	records := make([]update.Record, len(pending))
	checkpoints := make([]checkpoint, len(pending))
	for i, e := range pending {
		records[i] = e
		checkpoints[i] = e.checkpoint()
	}

	factory := update.NewBatchFactory(s.renderer, s.renderer.Policy())
	batches, err := update.NewCommandBatchPreparer(factory, update.WithPreparerLogger(logger)).Prepare(records)
	if err != nil {
		return 0, err
	}

	conn := s.conn
	if conn == nil {
		conn = s.manager.NewConnection()
	}
	opts := append(append([]update.ExecutorOption(nil), s.executorOpts...), update.WithExecutorLogger(logger))

	rows, err := s.manager.NewExecutor(opts...).Execute(ctx, conn, batches)
	if err != nil {
		for _, c := range checkpoints {
			if restoreErr := c.restore(); restoreErr != nil {
				logger.WithError(restoreErr).Error("failed to restore entry after failed save")
			}
		}
		return 0, err
	}

	s.acceptChanges(ctx, logger, pending)
	logger.WithFields(log.Fields{
		"entries": len(pending),
		"batches": len(batches),
		"rows":    rows,
	}).Info("changes saved")
	return rows, nil
}

func (s *Session) pending() []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		switch e.state {
		case StateAdded, StateModified, StateDeleted:
			out = append(out, e)
		}
	}
	return out
}

// acceptChanges resets saved entries to unchanged, detaches deleted ones and
// brings the cache up to date
func (s *Session) acceptChanges(ctx context.Context, logger *log.Entry, saved []*Entry) {
	for _, e := range saved {
		s.updateCache(ctx, logger, e)

		if e.state == StateDeleted {
			s.detach(e)
			continue
		}
		e.state, e.forced = StateUnchanged, false
		e.snapshot()
	}
}

// updateCache is best effort: the save has committed, so failures are logged
func (s *Session) updateCache(ctx context.Context, logger *log.Entry, e *Entry) {
	if s.cache == nil {
		return
	}
	key, ok := update.CanonicalKey(e.keyValues()...)
	if !ok {
		return
	}

	var (
		database = s.manager.Config().Database
		table    = e.entity.Type.Table.String()
		err      error
	)
	// Rows written inside a caller's transaction may still be rolled back
	if e.state == StateDeleted || s.strategy != redis.CacheStrategyWriteThrough || s.conn != nil {
		err = s.cache.InvalidateRow(ctx, database, table, key)
	} else if err = s.cache.WriteRow(ctx, database, table, key, e.row()); err == nil {
		err = s.addRowDependencies(ctx, database, table, key, e)
	}
	if err != nil && !redis.IsCacheDisabled(err) {
		logger.WithError(err).WithField("entry", e.String()).Warn("failed to update cached row")
	}
}

// addRowDependencies ties the cached row to the principal rows its foreign
// keys point at
func (s *Session) addRowDependencies(ctx context.Context, database, table, key string, e *Entry) error {
	for _, fk := range e.entity.Type.ForeignKeys {
		values := make([]any, len(fk.Properties))
		for i, p := range fk.Properties {
			values[i] = e.CurrentValue(p)
		}
		principalKey, ok := update.CanonicalKey(values...)
		if !ok {
			continue
		}
		err := s.cache.AddRowDependency(ctx, database, table, key, fk.PrincipalType.Table.String(), principalKey)
		if err != nil {
			return err
		}
	}
	return nil
}

func structPointer(entity any) (reflect.Value, bool) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return v, true
}
