package store

import "context"

// Store defines the vector persistence operations shared by every backend.
//
// Collections are addressed by name. Query, Fetch and Count return
// ErrCollectionNotFound for unknown collections; DeleteByFilter, Drop and
// DropIfEmpty treat them as a no-op. Insert fails the whole batch with
// ErrDuplicateRecord when a record id is already present.
type Store interface {
	// Collection management
	GetOrCreate(ctx context.Context, name string) (*Collection, error)
	Get(ctx context.Context, name string) (*Collection, error)
	List(ctx context.Context, prefix string) ([]Collection, error)
	Drop(ctx context.Context, name string) error
	// DropIfEmpty drops the collection only when it holds no records and
	// reports whether it did. A record inserted concurrently is never lost.
	DropIfEmpty(ctx context.Context, name string) (bool, error)

	// Records
	Insert(ctx context.Context, name string, records []Record) error
	Fetch(ctx context.Context, name string, filter *Filter) ([]Record, error)
	Count(ctx context.Context, name string, filter *Filter) (int, error)
	DeleteByFilter(ctx context.Context, name string, filter *Filter) ([]string, error)

	// Search
	Query(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Hit, error)

	Close() error
}

// OpenUserCollection returns the collection of the given kind for a user,
// creating it on first use.
func OpenUserCollection(ctx context.Context, st Store, userID int64, kind Kind) (*Collection, error) {
	return st.GetOrCreate(ctx, UserCollectionName(userID, kind))
}
