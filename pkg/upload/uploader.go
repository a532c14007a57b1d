package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"chatsync/pkg/blobstore"
	"chatsync/pkg/docstore"
	"chatsync/pkg/domain"
)

// Code subdivides terminal transfer failures by the collaborator's own
// error classes.
type Code string

const (
	CodePermissionDenied Code = "permission-denied"
	CodeCanceled         Code = "canceled"
	CodeUnknown          Code = "unknown"
)

// Error is a terminal storage-transfer failure.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload failed (%s): %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a transfer error to its failure code.
func Classify(err error) Code {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, blobstore.ErrPermission):
		return CodePermissionDenied
	default:
		return CodeUnknown
	}
}

// DocumentStore is the narrow docstore surface the uploader mutates
// through.
type DocumentStore interface {
	Patch(ctx context.Context, col, id string, mutate docstore.Mutate) (docstore.Document, error)
	Delete(ctx context.Context, col, id string) error
}

// Request describes one attachment byte transfer.
type Request struct {
	Collection  string            // messages collection of the owning chat
	MessageID   string            // owning message document
	Attachment  domain.Attachment // provisional record as persisted (Raw nil)
	Path        string            // destination storage path
	ContentType string
	Payload     io.Reader
	Size        int64
}

// Uploader runs attachment transfers in the background. Terminal
// success finalizes the owning message's attachment record; terminal
// failure rolls the whole message back. Failures are logged, never
// re-raised, and never retried.
type Uploader struct {
	docs    DocumentStore
	blobs   blobstore.Store
	tracker *Tracker
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New wires an uploader.
func New(docs DocumentStore, blobs blobstore.Store, tracker *Tracker, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{docs: docs, blobs: blobs, tracker: tracker, logger: logger}
}

// Tracker exposes the progress registry.
func (u *Uploader) Tracker() *Tracker { return u.tracker }

// Start launches the transfer and returns immediately. Progress lands
// in the tracker under the attachment id.
func (u *Uploader) Start(ctx context.Context, req Request) {
	ctx, cancel := context.WithCancel(ctx)
	u.tracker.Start(req.Attachment.ID, cancel)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer cancel()
		u.run(ctx, req)
	}()
}

// Wait blocks until every started transfer reached a terminal state.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

func (u *Uploader) run(ctx context.Context, req Request) {
	attID := req.Attachment.ID
	obj, err := u.blobs.Upload(ctx, req.Path, req.Payload, req.Size, req.ContentType, func(done, total int64) {
		if total > 0 {
			u.tracker.Update(attID, float64(done)/float64(total))
		}
	})
	if err != nil {
		u.rollback(req, err)
		return
	}

	final := req.Attachment
	final.Raw = &domain.StorageLocator{Bucket: obj.Bucket, Path: obj.Path, Size: req.Size}
	if _, err := u.docs.Patch(ctx, req.Collection, req.MessageID,
		replaceAttachment(req.Attachment, final)); err != nil {
		u.logger.Error("finalize attachment record",
			"message", req.MessageID, "attachment", attID, "err", err)
	}
	u.tracker.Finish(attID)
}

// rollback deletes the owning message and the placeholder thumbnail.
// Failure is terminal for the message; there is no retry.
func (u *Uploader) rollback(req Request, cause error) {
	attID := req.Attachment.ID
	u.tracker.MarkError(attID)
	u.tracker.Finish(attID)

	// The transfer context may already be canceled; the rollback gets
	// its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := u.docs.Delete(ctx, req.Collection, req.MessageID); err != nil {
		u.logger.Error("rollback message delete", "message", req.MessageID, "err", err)
	}
	if thumb := req.Attachment.Thumbnail; thumb != nil {
		if err := u.blobs.Delete(ctx, thumb.Path); err != nil {
			u.logger.Error("rollback thumbnail delete", "path", thumb.Path, "err", err)
		}
	}
	uploadErr := &Error{Code: Classify(cause), Err: cause}
	u.logger.Error("attachment upload failed",
		"message", req.MessageID, "attachment", attID, "code", string(uploadErr.Code), "err", cause)
}

// replaceAttachment swaps the provisional record for the finalized one
// as a remove-old/add-new pair: removal only matches an entry equal to
// the old record in its entirety.
func replaceAttachment(old, final domain.Attachment) docstore.Mutate {
	return func(doc docstore.Document) (docstore.Document, error) {
		var body domain.MessageBody
		if err := json.Unmarshal(doc.Data, &body); err != nil {
			return docstore.Document{}, fmt.Errorf("decode message: %w", err)
		}
		kept := body.Content.Attachments[:0]
		for _, att := range body.Content.Attachments {
			if !reflect.DeepEqual(att, old) {
				kept = append(kept, att)
			}
		}
		body.Content.Attachments = append(kept, final)
		data, err := json.Marshal(body)
		if err != nil {
			return docstore.Document{}, fmt.Errorf("encode message: %w", err)
		}
		doc.Data = data
		return doc, nil
	}
}
