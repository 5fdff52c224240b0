package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/movinglive/autoagent/core/storage"
	"github.com/movinglive/autoagent/core/types"
)

const (
	TasksKey  = "cronTasks"
	MissedKey = "missedTasks"
)

// Store owns the task and missed-occurrence collections. Every access is a
// whole-collection round trip; Update* serialize read-modify-write cycles per
// collection so concurrent triggers inside this process cannot lose updates.
type Store struct {
	kv       storage.Store
	tasksMu  sync.Mutex
	missedMu sync.Mutex
}

func New(kv storage.Store) *Store {
	return &Store{kv: kv}
}

// Init seeds empty collections on first run. Existing values are kept.
func (s *Store) Init(ctx context.Context) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	s.missedMu.Lock()
	defer s.missedMu.Unlock()

	got, err := s.kv.Get(ctx, TasksKey, MissedKey)
	if err != nil {
		return unavailable("init", err)
	}

	seed := map[string][]byte{}
	for _, k := range []string{TasksKey, MissedKey} {
		if _, ok := got[k]; !ok {
			seed[k] = []byte("[]")
		}
	}
	if len(seed) == 0 {
		return nil
	}
	if err := s.kv.Set(ctx, seed); err != nil {
		return unavailable("init", err)
	}
	return nil
}

func (s *Store) GetTasks(ctx context.Context) ([]types.Task, error) {
	return load[types.Task](ctx, s.kv, TasksKey)
}

func (s *Store) SaveTasks(ctx context.Context, tasks []types.Task) error {
	return save(ctx, s.kv, TasksKey, tasks)
}

func (s *Store) GetMissedOccurrences(ctx context.Context) ([]types.MissedOccurrence, error) {
	return load[types.MissedOccurrence](ctx, s.kv, MissedKey)
}

func (s *Store) SaveMissedOccurrences(ctx context.Context, records []types.MissedOccurrence) error {
	return save(ctx, s.kv, MissedKey, records)
}

// FindTask reports false when no task has the given id.
func (s *Store) FindTask(ctx context.Context, id string) (types.Task, bool, error) {
	tasks, err := s.GetTasks(ctx)
	if err != nil {
		return types.Task{}, false, err
	}
	if i := types.FindTask(tasks, id); i >= 0 {
		return tasks[i], true, nil
	}
	return types.Task{}, false, nil
}

func (s *Store) FindMissedOccurrence(ctx context.Context, id string) (types.MissedOccurrence, bool, error) {
	records, err := s.GetMissedOccurrences(ctx)
	if err != nil {
		return types.MissedOccurrence{}, false, err
	}
	if i := types.FindMissed(records, id); i >= 0 {
		return records[i], true, nil
	}
	return types.MissedOccurrence{}, false, nil
}

// Mutation is applied to a freshly loaded collection. It returns the new
// collection and whether it differs from the input; unchanged collections are
// not written back.
type Mutation[T any] func(items []T) ([]T, bool, error)

func (s *Store) UpdateTasks(ctx context.Context, fn Mutation[types.Task]) ([]types.Task, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	return update(ctx, s.kv, TasksKey, fn)
}

func (s *Store) UpdateMissedOccurrences(ctx context.Context, fn Mutation[types.MissedOccurrence]) ([]types.MissedOccurrence, error) {
	s.missedMu.Lock()
	defer s.missedMu.Unlock()
	return update(ctx, s.kv, MissedKey, fn)
}

func (s *Store) ActiveTasks(ctx context.Context) ([]types.Task, error) {
	tasks, err := s.GetTasks(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]types.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.IsActive {
			active = append(active, t)
		}
	}
	return active, nil
}

type Counts struct {
	Active int `json:"active"`
	Paused int `json:"paused"`
	Missed int `json:"missed"`
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	tasks, err := s.GetTasks(ctx)
	if err != nil {
		return c, err
	}
	for _, t := range tasks {
		if t.IsActive {
			c.Active++
		} else {
			c.Paused++
		}
	}
	records, err := s.GetMissedOccurrences(ctx)
	if err != nil {
		return c, err
	}
	c.Missed = len(records)
	return c, nil
}

func update[T any](ctx context.Context, kv storage.Store, key string, fn Mutation[T]) ([]T, error) {
	items, err := load[T](ctx, kv, key)
	if err != nil {
		return nil, err
	}
	next, changed, err := fn(items)
	if err != nil {
		return nil, err
	}
	if !changed {
		return items, nil
	}
	if err := save(ctx, kv, key, next); err != nil {
		return nil, err
	}
	return next, nil
}

func load[T any](ctx context.Context, kv storage.Store, key string) ([]T, error) {
	got, err := kv.Get(ctx, key)
	if err != nil {
		return nil, unavailable("read "+key, err)
	}
	raw, ok := got[key]
	if !ok || len(raw) == 0 {
		return []T{}, nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, unavailable("decode "+key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func save[T any](ctx context.Context, kv storage.Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, map[string][]byte{key: raw}); err != nil {
		return unavailable("write "+key, err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", types.ErrStorageUnavailable, op, err)
}
