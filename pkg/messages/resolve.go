package messages

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"chatsync/pkg/blobstore"
	"chatsync/pkg/docstore"
	"chatsync/pkg/domain"
)

// ProfileLookup resolves a user id to display info. An absent sender
// is an invariant violation and fails the whole resolution.
type ProfileLookup interface {
	Get(ctx context.Context, uid string) (domain.DisplayUser, error)
}

// ThumbLoader fetches thumbnail bytes by storage path.
type ThumbLoader interface {
	GetBytes(ctx context.Context, path string) ([]byte, error)
}

// Resolver turns raw persisted message documents into display form.
type Resolver struct {
	profiles ProfileLookup
	thumbs   ThumbLoader
}

// NewResolver wires a resolver.
func NewResolver(profiles ProfileLookup, thumbs ThumbLoader) *Resolver {
	return &Resolver{profiles: profiles, thumbs: thumbs}
}

// DecodeMessage reassembles a domain message from its document
// envelope and body.
func DecodeMessage(doc docstore.Document) (domain.Message, error) {
	var body domain.MessageBody
	if err := json.Unmarshal(doc.Data, &body); err != nil {
		return domain.Message{}, fmt.Errorf("decode message %s: %w", doc.ID, err)
	}
	return domain.Message{
		ID:        doc.ID,
		Content:   body.Content,
		SenderID:  body.SenderID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// Resolve fetches the sender's display record and inlines every
// attachment thumbnail, concurrently per attachment. The message is
// resolved only once all fetches complete.
func (r *Resolver) Resolve(ctx context.Context, doc docstore.Document) (DisplayMessage, error) {
	msg, err := DecodeMessage(doc)
	if err != nil {
		return DisplayMessage{}, err
	}
	sender, err := r.profiles.Get(ctx, msg.SenderID)
	if err != nil {
		return DisplayMessage{}, fmt.Errorf("resolve sender %s: %w", msg.SenderID, err)
	}

	display := DisplayMessage{
		ID:        msg.ID,
		Type:      msg.Content.Type,
		Text:      msg.Content.Text,
		Sender:    sender,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
	if msg.Content.Type == domain.ContentText || len(msg.Content.Attachments) == 0 {
		return display, nil
	}

	resolved := make([]DisplayAttachment, len(msg.Content.Attachments))
	g, gctx := errgroup.WithContext(ctx)
	for i, att := range msg.Content.Attachments {
		if att.Thumbnail == nil {
			// No thumbnail locator: the attachment passes through as a
			// plain file attachment.
			resolved[i] = DisplayAttachment{Attachment: att}
			continue
		}
		i, att := i, att
		g.Go(func() error {
			data, err := r.thumbs.GetBytes(gctx, att.Thumbnail.Path)
			if err != nil {
				return fmt.Errorf("fetch thumbnail %s: %w", att.Thumbnail.Path, err)
			}
			// The inline data replaces the locator in display form.
			disp := att
			disp.Thumbnail = nil
			resolved[i] = DisplayAttachment{
				Attachment: disp,
				ThumbData:  blobstore.EncodeDataURI(att.FileType, data),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DisplayMessage{}, err
	}
	display.Attachments = resolved
	return display, nil
}
