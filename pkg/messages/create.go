package messages

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
	"chatsync/pkg/upload"
)

// ErrInvalidAttachment indicates malformed attachment input; no
// network call is made for a form that fails validation.
var ErrInvalidAttachment = errors.New("invalid attachment payload")

// MaxAttachmentSize caps a single attachment payload.
const MaxAttachmentSize = 2 << 20

// Session exposes the identity of the signed-in user.
type Session interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// FormAttachment is one attachment of a creation form.
type FormAttachment struct {
	ID          string // allocated when empty
	Name        string
	ContentType string
	Payload     io.Reader
	Size        int64
	// Thumbnail is a precomputed data-URI preview, media only.
	Thumbnail string
	ThumbSize int64
	Sizes     map[string]domain.Dimensions
}

// CreateForm is the input of Create.
type CreateForm struct {
	Type        domain.ContentType
	Text        string
	Attachments []FormAttachment
}

// Composer writes messages. Creation and update errors propagate to
// the caller, unlike the synchronizer's read paths.
type Composer struct {
	docs     docstore.Store
	blobs    blobstore.Store
	uploader *upload.Uploader
	session  Session
}

// NewComposer wires a composer.
func NewComposer(docs docstore.Store, blobs blobstore.Store, uploader *upload.Uploader, session Session) *Composer {
	return &Composer{docs: docs, blobs: blobs, uploader: uploader, session: session}
}

// Create persists a new message. The identity is allocated up front so
// attachment storage paths can reference it before the document
// exists; the document is written with provisional attachment records
// (no Raw locator) and becomes visible before the byte payloads finish
// uploading in the background.
func (c *Composer) Create(ctx context.Context, chatID string, form CreateForm) (string, error) {
	uid, err := c.session.CurrentUserID(ctx)
	if err != nil {
		return "", err
	}
	if err := validateForm(form); err != nil {
		return "", err
	}

	msgID := uuid.NewString()
	col := Collection(chatID)
	content := domain.MessageContent{Type: form.Type, Text: form.Text}

	type pendingUpload struct {
		att  domain.Attachment
		form FormAttachment
		path string
	}
	var pending []pendingUpload
	for _, fa := range form.Attachments {
		attID := fa.ID
		if attID == "" {
			attID = uuid.NewString()
		}
		att := domain.Attachment{
			ID:       attID,
			FileType: fa.ContentType,
			Name:     fa.Name,
			Sizes:    fa.Sizes,
		}
		// The thumbnail goes up synchronously so the provisional
		// record can already point at it.
		if form.Type == domain.ContentMedia && fa.Thumbnail != "" {
			obj, err := c.blobs.PutString(ctx, attachmentPath(chatID, msgID, attID+"_thumb", fa.Name), fa.Thumbnail)
			if err != nil {
				return "", fmt.Errorf("upload thumbnail: %w", err)
			}
			size := fa.ThumbSize
			if size == 0 {
				size = obj.Size
			}
			att.Thumbnail = &domain.StorageLocator{Bucket: obj.Bucket, Path: obj.Path, Size: size}
		}
		content.Attachments = append(content.Attachments, att)
		pending = append(pending, pendingUpload{
			att:  att,
			form: fa,
			path: attachmentPath(chatID, msgID, attID, fa.Name),
		})
	}

	body := domain.MessageBody{Content: content, SenderID: uid}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	if _, err := c.docs.Put(ctx, col, docstore.Document{ID: msgID, Data: data}); err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}

	for _, p := range pending {
		c.uploader.Start(ctx, upload.Request{
			Collection:  col,
			MessageID:   msgID,
			Attachment:  p.att,
			Path:        p.path,
			ContentType: p.form.ContentType,
			Payload:     p.form.Payload,
			Size:        p.form.Size,
		})
	}
	return msgID, nil
}

// Update overwrites the text only and bumps the update timestamp;
// attachments are untouched.
func (c *Composer) Update(ctx context.Context, chatID, messageID, newText string) error {
	_, err := c.docs.Patch(ctx, Collection(chatID), messageID, func(doc docstore.Document) (docstore.Document, error) {
		var body domain.MessageBody
		if err := json.Unmarshal(doc.Data, &body); err != nil {
			return docstore.Document{}, fmt.Errorf("decode message: %w", err)
		}
		body.Content.Text = newText
		data, err := json.Marshal(body)
		if err != nil {
			return docstore.Document{}, fmt.Errorf("encode message: %w", err)
		}
		doc.Data = data
		now := time.Now().UTC()
		doc.UpdatedAt = &now
		return doc, nil
	})
	if err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}
	return nil
}

// Delete removes a message document.
func (c *Composer) Delete(ctx context.Context, chatID, messageID string) error {
	if err := c.docs.Delete(ctx, Collection(chatID), messageID); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// validateForm rejects malformed input before anything touches the
// network.
func validateForm(form CreateForm) error {
	switch form.Type {
	case domain.ContentText:
		if len(form.Attachments) != 0 {
			return fmt.Errorf("%w: text message cannot carry attachments", domain.ErrInvalidContent)
		}
	case domain.ContentMedia, domain.ContentFile:
		if len(form.Attachments) == 0 {
			return fmt.Errorf("%w: %s message requires attachments", domain.ErrInvalidContent, form.Type)
		}
	default:
		return fmt.Errorf("%w: unknown content type %q", domain.ErrInvalidContent, form.Type)
	}
	for _, fa := range form.Attachments {
		if fa.Payload == nil || fa.Size <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidAttachment, fa.Name)
		}
		if fa.Size > MaxAttachmentSize {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidAttachment, fa.Name, MaxAttachmentSize)
		}
		if form.Type == domain.ContentMedia && (fa.Thumbnail == "" || len(fa.Sizes) == 0) {
			return fmt.Errorf("%w: media attachment %s requires a thumbnail and size variants", ErrInvalidAttachment, fa.Name)
		}
	}
	return nil
}

// attachmentPath namespaces attachment binaries by chat and message.
func attachmentPath(chatID, messageID, base, filename string) string {
	path := fmt.Sprintf("chats/%s/messageData/%s/%s", chatID, messageID, base)
	if ext := util.FileExt(filename); ext != "" {
		path += "." + ext
	}
	return path
}
