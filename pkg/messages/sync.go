package messages

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"chatsync/internal/util"
	"chatsync/pkg/docstore"
)

// DefaultPageSize bounds live windows and history pages when the
// caller passes no explicit size.
const DefaultPageSize = 10

// Collection returns the messages collection path of a chat.
func Collection(chatID string) string {
	return "chats/" + chatID + "/messages"
}

// Synchronizer maintains the live message window of one chat view and
// pages further into history on demand. Read-path failures are
// funneled to the reporter and never escape the synchronizer.
type Synchronizer struct {
	docs     docstore.Store
	live     docstore.LiveQuerier
	resolver *Resolver
	window   *Window
	report   util.Reporter
	logger   *slog.Logger

	mu        sync.Mutex
	stop      func()
	firstLoad chan struct{}
}

// NewSynchronizer wires a synchronizer around a window it will drive.
func NewSynchronizer(docs docstore.Store, live docstore.LiveQuerier, resolver *Resolver, window *Window, report util.Reporter, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if report == nil {
		report = util.NewSlogReporter(logger)
	}
	return &Synchronizer{
		docs:     docs,
		live:     live,
		resolver: resolver,
		window:   window,
		report:   report,
		logger:   logger,
	}
}

// Window exposes the ordering store this synchronizer drives.
func (s *Synchronizer) Window() *Window { return s.window }

// FirstLoad is closed once the initial window load completed. It is
// replaced on every OpenLiveWindow call.
func (s *Synchronizer) FirstLoad() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstLoad
}

// OpenLiveWindow resets the window and subscribes to the pageSize
// most-recent messages of the chat, reconciling every change batch
// into the window until Close or context cancellation. Switching chats
// is just calling OpenLiveWindow again.
func (s *Synchronizer) OpenLiveWindow(ctx context.Context, chatID string, pageSize int) error {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.window.Reset()
	firstLoad := make(chan struct{})
	s.firstLoad = firstLoad
	s.mu.Unlock()

	ch, stop, err := s.live.LiveQuery(ctx, Collection(chatID), pageSize)
	if err != nil {
		return fmt.Errorf("open live window %s: %w", chatID, err)
	}
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	go func() {
		initial := true
		for batch := range ch {
			s.applyBatch(ctx, batch, pageSize, initial)
			if initial {
				initial = false
				if s.window.MarkFirstLoaded() {
					close(firstLoad)
				}
			}
		}
	}()
	return nil
}

// Close tears down the live subscription.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

type resolvedChange struct {
	kind docstore.ChangeKind
	id   string
	msg  DisplayMessage
}

// applyBatch resolves the batch's records concurrently and applies
// them to the window in reverse arrival order in one sweep: the feed
// delivers newest first, the window displays oldest first. initial
// marks the subscription's opening snapshot batch; later batches are
// change deltas.
func (s *Synchronizer) applyBatch(ctx context.Context, batch docstore.Batch, pageSize int, initial bool) {
	resolved := make([]resolvedChange, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, change := range batch {
		resolved[i] = resolvedChange{kind: change.Kind, id: change.Doc.ID}
		if change.Kind == docstore.Removed {
			continue
		}
		i, doc := i, change.Doc
		g.Go(func() error {
			msg, err := s.resolver.Resolve(gctx, doc)
			if err != nil {
				return err
			}
			resolved[i].msg = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// The whole batch is dropped; the stream stays consistent
		// because a later modification redelivers the documents.
		s.report.Report(ctx, fmt.Errorf("resolve change batch: %w", err))
		return
	}

	for i := len(resolved) - 1; i >= 0; i-- {
		switch resolved[i].kind {
		case docstore.Added:
			s.window.Upsert(resolved[i].msg)
		case docstore.Modified:
			s.window.Modify(resolved[i].msg)
		case docstore.Removed:
			s.window.Remove(resolved[i].id)
		}
	}

	// A full opening snapshot means older history exists beyond its
	// last (oldest) document; seed the top cursor there. Later deltas
	// never move the cursor: they describe new writes, not history.
	if initial && len(batch) >= pageSize {
		last := batch[len(batch)-1].Doc
		s.window.SetCursor(Top, &last)
	}
}

// LoadMore pages further into history. Calls are dropped, not queued,
// when the direction is exhausted or another load is in flight.
func (s *Synchronizer) LoadMore(ctx context.Context, chatID string, dir Direction, pageSize int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	cursor := s.window.Cursor(dir)
	if cursor == nil {
		return
	}
	if !s.window.TryBeginLoad() {
		return
	}
	defer s.window.EndLoad()

	order := docstore.Asc
	if dir == Top {
		order = docstore.Desc
	}
	docs, err := s.docs.Page(ctx, Collection(chatID), order, cursor, pageSize)
	if err != nil {
		s.report.Report(ctx, fmt.Errorf("load more %s: %w", dir, err))
		return
	}
	if len(docs) == 0 {
		s.window.SetCursor(dir, nil)
		return
	}

	resolved := make([]DisplayMessage, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			msg, err := s.resolver.Resolve(gctx, doc)
			if err != nil {
				return err
			}
			resolved[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.report.Report(ctx, fmt.Errorf("resolve page: %w", err))
		return
	}

	for _, msg := range resolved {
		if dir == Top {
			// Pages arrive newest first; prepending in arrival order
			// keeps the window ascending.
			s.window.Prepend(msg)
		} else {
			s.window.Append(msg)
		}
	}

	if len(docs) >= pageSize {
		last := docs[len(docs)-1]
		s.window.SetCursor(dir, &last)
	} else {
		s.window.SetCursor(dir, nil)
	}
}
