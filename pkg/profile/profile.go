// Package profile fetches and caches denormalized user display info
// and maintains the signed-in user's own profile document.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/util"
	"chatsync/pkg/blobstore"
	"chatsync/pkg/docstore"
	"chatsync/pkg/domain"
)

// Collection is the user profile collection path.
const Collection = "userdata"

// ErrNotFound indicates the referenced user document is absent.
var ErrNotFound = errors.New("user not found")

// Session exposes the identity of the signed-in user.
type Session interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// Store reads and writes user profile documents.
type Store struct {
	docs    docstore.Store
	feed    docstore.Feed
	blobs   blobstore.Store
	cache   Cache
	session Session
}

// New wires the profile store. feed and blobs may be nil when self
// watching or avatar upload are not used.
func New(docs docstore.Store, feed docstore.Feed, blobs blobstore.Store, cache Cache, session Session) *Store {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Store{docs: docs, feed: feed, blobs: blobs, cache: cache, session: session}
}

// Get returns the display form of a user, read-through cached. An
// absent user is ErrNotFound.
func (s *Store) Get(ctx context.Context, uid string) (domain.DisplayUser, error) {
	if u, ok, err := s.cache.Get(ctx, uid); err == nil && ok {
		return u, nil
	}
	prof, err := s.fetch(ctx, uid)
	if err != nil {
		return domain.DisplayUser{}, err
	}
	display := prof.Display()
	_ = s.cache.Set(ctx, uid, display)
	return display, nil
}

// GetProfile returns the full profile document.
func (s *Store) GetProfile(ctx context.Context, uid string) (domain.UserProfile, error) {
	return s.fetch(ctx, uid)
}

func (s *Store) fetch(ctx context.Context, uid string) (domain.UserProfile, error) {
	doc, err := s.docs.Get(ctx, Collection, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.UserProfile{}, fmt.Errorf("%w: %s", ErrNotFound, uid)
		}
		return domain.UserProfile{}, fmt.Errorf("fetch user %s: %w", uid, err)
	}
	var prof domain.UserProfile
	if err := json.Unmarshal(doc.Data, &prof); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode user %s: %w", uid, err)
	}
	prof.ID = doc.ID
	if prof.CreatedAt.IsZero() {
		prof.CreatedAt = doc.CreatedAt
	}
	return prof, nil
}

// EnsureUser creates the profile document on first sign-in, or
// refreshes the mutable display fields when it already exists.
func (s *Store) EnsureUser(ctx context.Context, prof domain.UserProfile) error {
	if prof.ID == "" {
		return fmt.Errorf("ensure user: id required")
	}
	_, err := s.docs.Get(ctx, Collection, prof.ID)
	if err == nil {
		return s.Update(ctx, prof.ID, map[string]any{
			"displayName": prof.DisplayName,
			"avatarURL":   prof.AvatarURL,
			"phone":       prof.Phone,
		})
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("ensure user: %w", err)
	}
	if prof.CreatedAt.IsZero() {
		prof.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(prof)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if _, err := s.docs.Put(ctx, Collection, docstore.Document{
		ID:        prof.ID,
		Data:      data,
		CreatedAt: prof.CreatedAt,
	}); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update patches profile fields of the given user and invalidates the
// cached display record.
func (s *Store) Update(ctx context.Context, uid string, fields map[string]any) error {
	_, err := s.docs.Patch(ctx, Collection, uid, func(doc docstore.Document) (docstore.Document, error) {
		var payload map[string]any
		if err := json.Unmarshal(doc.Data, &payload); err != nil {
			return docstore.Document{}, fmt.Errorf("decode user: %w", err)
		}
		for k, v := range fields {
			payload[k] = v
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return docstore.Document{}, fmt.Errorf("encode user: %w", err)
		}
		doc.Data = data
		return doc, nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, uid)
		}
		return fmt.Errorf("update user %s: %w", uid, err)
	}
	return s.cache.Delete(ctx, uid)
}

// UpdateAvatar uploads a new avatar blob for the signed-in user and
// points the profile at it.
func (s *Store) UpdateAvatar(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	uid, err := s.session.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("userdata/%s/avatar/%s", uid, uuid.NewString())
	if ext := util.FileExt(name); ext != "" {
		path += "." + ext
	}
	obj, err := s.blobs.Upload(ctx, path, r, size, contentType, nil)
	if err != nil {
		return fmt.Errorf("upload avatar: %w", err)
	}
	return s.Update(ctx, uid, map[string]any{"avatarURL": obj.Path})
}

// WatchSelf subscribes to the signed-in user's own profile document
// and emits each updated version.
func (s *Store) WatchSelf(ctx context.Context) (<-chan domain.UserProfile, func(), error) {
	uid, err := s.session.CurrentUserID(ctx)
	if err != nil {
		return nil, nil, err
	}
	if s.feed == nil {
		return nil, nil, fmt.Errorf("watch self: no feed configured")
	}
	ch, stop, err := s.feed.Subscribe(ctx, Collection)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan domain.UserProfile, 8)
	go func() {
		defer close(out)
		for batch := range ch {
			for _, change := range batch {
				if change.Doc.ID != uid || change.Kind == docstore.Removed {
					continue
				}
				var prof domain.UserProfile
				if err := json.Unmarshal(change.Doc.Data, &prof); err != nil {
					continue
				}
				prof.ID = change.Doc.ID
				_ = s.cache.Delete(ctx, uid)
				select {
				case out <- prof:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, stop, nil
}

// LookupByEmail resolves an email to the user id and password hash,
// suitable as a session.CredentialLookup.
func (s *Store) LookupByEmail(ctx context.Context, email string) (string, string, error) {
	var cursor *docstore.Document
	for {
		page, err := s.docs.Page(ctx, Collection, docstore.Asc, cursor, 100)
		if err != nil {
			return "", "", fmt.Errorf("scan users: %w", err)
		}
		if len(page) == 0 {
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, email)
		}
		for _, doc := range page {
			var prof domain.UserProfile
			if err := json.Unmarshal(doc.Data, &prof); err != nil {
				continue
			}
			if prof.Email == email {
				return doc.ID, prof.PasswordHash, nil
			}
		}
		cursor = &page[len(page)-1]
	}
}
