package docstore

import "context"

// Live composes a Store with a Feed transport into a LiveQuerier: the
// initial window comes from a page query, everything after from the
// feed. Stores that fan out in-process (MemoryStore) implement
// LiveQuerier themselves and do not need this.
type Live struct {
	Store Store
	Feed  Feed
}

// LiveQuery subscribes first and pages second, so a write landing
// between the two shows up as a duplicate change rather than a hole;
// consumers reconcile by document id, which makes duplicates harmless.
func (l Live) LiveQuery(ctx context.Context, col string, limit int) (<-chan Batch, func(), error) {
	ch, stop, err := l.Feed.Subscribe(ctx, col)
	if err != nil {
		return nil, nil, err
	}
	initial, err := l.Store.Page(ctx, col, Desc, nil, limit)
	if err != nil {
		stop()
		return nil, nil, err
	}

	out := make(chan Batch, 64)
	go func() {
		defer close(out)
		// The initial batch goes out even when empty so consumers can
		// tell "loaded, nothing there" from "still loading".
		batch := make(Batch, 0, len(initial))
		for _, doc := range initial {
			batch = append(batch, Change{Kind: Added, Doc: doc})
		}
		out <- batch
		for batch := range ch {
			out <- batch
		}
	}()
	return out, stop, nil
}
