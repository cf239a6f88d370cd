package generations

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo stores generations in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu        sync.RWMutex
	byID      map[string]Generation
	completed map[string]uint64
	seq       uint64
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:      make(map[string]Generation),
		completed: make(map[string]uint64),
	}
}

// Create stores a new generation.
func (r *MemoryRepo) Create(ctx context.Context, gen Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if gen.ID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[gen.ID]; exists {
		return ErrInvalidInput
	}
	r.byID[gen.ID] = gen
	r.track(gen)
	return nil
}

// GetByID returns a generation by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.byID[id]
	if !ok {
		return Generation{}, ErrNotFound
	}
	return gen, nil
}

// Update replaces a stored generation.
func (r *MemoryRepo) Update(ctx context.Context, gen Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[gen.ID]; !ok {
		return ErrNotFound
	}
	r.byID[gen.ID] = gen
	r.track(gen)
	return nil
}

// track assigns a completion sequence the first time a generation is seen completed.
// Callers must hold the write lock.
func (r *MemoryRepo) track(gen Generation) {
	if gen.Status != StatusCompleted {
		delete(r.completed, gen.ID)
		return
	}
	if _, ok := r.completed[gen.ID]; ok {
		return
	}
	r.seq++
	r.completed[gen.ID] = r.seq
}

// LatestCompleted returns the most recently completed generation.
func (r *MemoryRepo) LatestCompleted(ctx context.Context) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		latestID  string
		latestSeq uint64
	)
	for id, seq := range r.completed {
		if seq > latestSeq {
			latestID, latestSeq = id, seq
		}
	}
	if latestID == "" {
		return Generation{}, ErrNotFound
	}
	return r.byID[latestID], nil
}

// List returns generations newest first with limit/offset.
func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	all := make([]Generation, 0, len(r.byID))
	for _, gen := range r.byID {
		all = append(all, gen)
	}
	r.mu.RUnlock()

	if offset >= len(all) {
		return []Generation{}, nil
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

var _ Repo = (*MemoryRepo)(nil)
