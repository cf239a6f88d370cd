package generations

import "context"

// Repo defines persistence operations for generations.
type Repo interface {
	Create(ctx context.Context, gen Generation) error
	GetByID(ctx context.Context, id string) (Generation, error)
	Update(ctx context.Context, gen Generation) error
	// LatestCompleted returns the generation that completed last.
	LatestCompleted(ctx context.Context) (Generation, error)
	List(ctx context.Context, limit, offset int) ([]Generation, error)
}
