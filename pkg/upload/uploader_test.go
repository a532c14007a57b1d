package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"chatsync/pkg/blobstore"
	"chatsync/pkg/docstore"
	"chatsync/pkg/domain"
)

func seedMessage(t *testing.T, docs *docstore.MemoryStore, col, id string, att domain.Attachment) {
	t.Helper()
	body := domain.MessageBody{
		Content: domain.MessageContent{
			Type:        domain.ContentMedia,
			Attachments: []domain.Attachment{att},
		},
		SenderID: "alice",
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	if _, err := docs.Put(context.Background(), col, docstore.Document{ID: id, Data: data}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
}

func decodeBody(t *testing.T, doc docstore.Document) domain.MessageBody {
	t.Helper()
	var body domain.MessageBody
	if err := json.Unmarshal(doc.Data, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestUploaderFinalizesRecord(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("test")
	u := New(docs, blobs, NewTracker(), nil)

	att := domain.Attachment{ID: "att1", FileType: "image/jpeg", Name: "photo.jpg"}
	seedMessage(t, docs, "chats/c1/messages", "m1", att)

	payload := "raw jpeg payload"
	u.Start(context.Background(), Request{
		Collection:  "chats/c1/messages",
		MessageID:   "m1",
		Attachment:  att,
		Path:        "chats/c1/messageData/m1/att1.jpg",
		ContentType: "image/jpeg",
		Payload:     strings.NewReader(payload),
		Size:        int64(len(payload)),
	})
	u.Wait()

	doc, err := docs.Get(context.Background(), "chats/c1/messages", "m1")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	body := decodeBody(t, doc)
	if len(body.Content.Attachments) != 1 {
		t.Fatalf("expected one attachment after swap, got %d", len(body.Content.Attachments))
	}
	final := body.Content.Attachments[0]
	if final.Raw == nil || final.Raw.Path != "chats/c1/messageData/m1/att1.jpg" {
		t.Fatalf("raw locator not finalized: %+v", final.Raw)
	}
	if !blobs.Has(final.Raw.Path) {
		t.Fatal("payload missing from blob store")
	}
	if u.Tracker().Len() != 0 {
		t.Fatalf("tracker not drained: %d entries", u.Tracker().Len())
	}
}

func TestUploaderReportsProgress(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("test")
	blobs.Gate = make(chan struct{}, 2)
	tr := NewTracker()
	u := New(docs, blobs, tr, nil)

	att := domain.Attachment{ID: "att1", FileType: "image/jpeg", Name: "photo.jpg"}
	seedMessage(t, docs, "chats/c1/messages", "m1", att)

	// Two gate tokens release exactly the first chunk read: one for the
	// chunk, one for the EOF-detecting read after it.
	payload := strings.Repeat("x", 64)
	u.Start(context.Background(), Request{
		Collection: "chats/c1/messages",
		MessageID:  "m1",
		Attachment: att,
		Path:       "p",
		Payload:    io.LimitReader(neverEOF{}, int64(len(payload))),
		Size:       int64(len(payload)) * 2,
	})

	blobs.Gate <- struct{}{}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := tr.Get("att1"); ok && task.Status == StatusRunning && task.Progress > 0 && task.Progress < 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, ok := tr.Get("att1")
	if !ok || task.Status != StatusRunning || task.Progress <= 0 || task.Progress >= 1 {
		t.Fatalf("expected partial progress, got %+v (ok=%v)", task, ok)
	}

	blobs.Gate <- struct{}{}
	u.Wait()
}

type neverEOF struct{}

func (neverEOF) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

type permissionStore struct {
	*blobstore.MemoryStore
}

func (permissionStore) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress blobstore.ProgressFunc) (blobstore.Object, error) {
	return blobstore.Object{}, blobstore.ErrPermission
}

func TestUploaderRollsBackOnFailure(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := permissionStore{blobstore.NewMemoryStore("test")}
	u := New(docs, blobs, NewTracker(), nil)

	thumbPath := "chats/c1/messageData/m1/att1_thumb.jpg"
	if _, err := blobs.PutString(context.Background(), thumbPath, "data:image/jpeg;base64,dGh1bWI="); err != nil {
		t.Fatalf("seed thumbnail: %v", err)
	}
	att := domain.Attachment{
		ID:        "att1",
		FileType:  "image/jpeg",
		Name:      "photo.jpg",
		Thumbnail: &domain.StorageLocator{Bucket: "test", Path: thumbPath, Size: 5},
	}
	seedMessage(t, docs, "chats/c1/messages", "m1", att)

	u.Start(context.Background(), Request{
		Collection: "chats/c1/messages",
		MessageID:  "m1",
		Attachment: att,
		Path:       "chats/c1/messageData/m1/att1.jpg",
		Payload:    strings.NewReader("payload"),
		Size:       7,
	})
	u.Wait()

	if _, err := docs.Get(context.Background(), "chats/c1/messages", "m1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected rolled-back message, got %v", err)
	}
	if blobs.Has(thumbPath) {
		t.Fatal("thumbnail survived the rollback")
	}
	if u.Tracker().Len() != 0 {
		t.Fatalf("tracker not drained after rollback: %d entries", u.Tracker().Len())
	}
}

func TestUploaderCancellation(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("test")
	blobs.Gate = make(chan struct{})
	tr := NewTracker()
	u := New(docs, blobs, tr, nil)

	att := domain.Attachment{ID: "att1", FileType: "image/jpeg", Name: "photo.jpg"}
	seedMessage(t, docs, "chats/c1/messages", "m1", att)

	u.Start(context.Background(), Request{
		Collection: "chats/c1/messages",
		MessageID:  "m1",
		Attachment: att,
		Path:       "p",
		Payload:    strings.NewReader("held at the gate"),
		Size:       16,
	})

	tr.Cancel("att1")
	u.Wait()

	// Cancellation surfaces through the failure path: message gone,
	// payload never stored.
	if _, err := docs.Get(context.Background(), "chats/c1/messages", "m1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected rolled-back message, got %v", err)
	}
	if blobs.Has("p") {
		t.Fatal("canceled payload was stored")
	}
	if tr.Len() != 0 {
		t.Fatalf("tracker not drained after cancel: %d entries", tr.Len())
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(context.Canceled); got != CodeCanceled {
		t.Fatalf("canceled classified as %s", got)
	}
	if got := Classify(blobstore.ErrPermission); got != CodePermissionDenied {
		t.Fatalf("permission classified as %s", got)
	}
	if got := Classify(errors.New("wat")); got != CodeUnknown {
		t.Fatalf("unknown classified as %s", got)
	}
	uploadErr := &Error{Code: CodeCanceled, Err: context.Canceled}
	if !errors.Is(uploadErr, context.Canceled) {
		t.Fatal("Error does not unwrap its cause")
	}
}
