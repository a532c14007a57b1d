package messages

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatsync/pkg/blobstore"
	"chatsync/pkg/docstore"
	"chatsync/pkg/domain"
	"chatsync/pkg/session"
	"chatsync/pkg/upload"
)

type sessionStub struct {
	uid string
	err error
}

func (s sessionStub) CurrentUserID(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.uid, nil
}

func newTestComposer(docs *docstore.MemoryStore, blobs *blobstore.MemoryStore) *Composer {
	uploader := upload.New(docs, blobs, upload.NewTracker(), nil)
	return NewComposer(docs, blobs, uploader, sessionStub{uid: "alice"})
}

const testThumbURI = "data:image/jpeg;base64,dGh1bWJieXRlcw=="

func mediaForm(payload string) CreateForm {
	return CreateForm{
		Type: domain.ContentMedia,
		Attachments: []FormAttachment{{
			ID:          "att1",
			Name:        "photo.jpg",
			ContentType: "image/jpeg",
			Payload:     strings.NewReader(payload),
			Size:        int64(len(payload)),
			Thumbnail:   testThumbURI,
			ThumbSize:   10,
			Sizes:       map[string]domain.Dimensions{"raw": {Width: 640, Height: 480}},
		}},
	}
}

func TestCreateTextMessage(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("test")
	c := newTestComposer(docs, blobs)

	id, err := c.Create(context.Background(), "c1", CreateForm{Type: domain.ContentText, Text: "hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := docs.Get(context.Background(), Collection("c1"), id)
	if err != nil {
		t.Fatalf("get created message: %v", err)
	}
	msg, err := DecodeMessage(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.SenderID != "alice" || msg.Content.Text != "hello" || msg.Content.Type != domain.ContentText {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("created message has no timestamp")
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	docs := docstore.NewMemoryStore()
	uploader := upload.New(docs, blobstore.NewMemoryStore("test"), upload.NewTracker(), nil)
	c := NewComposer(docs, blobstore.NewMemoryStore("test"), uploader, sessionStub{err: session.ErrUnauthenticated})

	_, err := c.Create(context.Background(), "c1", CreateForm{Type: domain.ContentText, Text: "hello"})
	if !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCreateValidatesBeforeWriting(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("test")
	c := newTestComposer(docs, blobs)
	ctx := context.Background()

	cases := []struct {
		name string
		form CreateForm
		want error
	}{
		{"text with attachments", CreateForm{Type: domain.ContentText, Attachments: []FormAttachment{{Name: "x"}}}, domain.ErrInvalidContent},
		{"media without attachments", CreateForm{Type: domain.ContentMedia}, domain.ErrInvalidContent},
		{"unknown type", CreateForm{Type: "carrier-pigeon"}, domain.ErrInvalidContent},
		{"attachment without payload", CreateForm{Type: domain.ContentFile, Attachments: []FormAttachment{{Name: "doc.pdf", Size: 12}}}, ErrInvalidAttachment},
		{"attachment without size", CreateForm{Type: domain.ContentFile, Attachments: []FormAttachment{{Name: "doc.pdf", Payload: strings.NewReader("x")}}}, ErrInvalidAttachment},
		{"oversized attachment", CreateForm{Type: domain.ContentFile, Attachments: []FormAttachment{{Name: "big.bin", Payload: strings.NewReader("x"), Size: MaxAttachmentSize + 1}}}, ErrInvalidAttachment},
		{"media without thumbnail", func() CreateForm {
			form := mediaForm("payload")
			form.Attachments[0].Thumbnail = ""
			return form
		}(), ErrInvalidAttachment},
		{"media without sizes", func() CreateForm {
			form := mediaForm("payload")
			form.Attachments[0].Sizes = nil
			return form
		}(), ErrInvalidAttachment},
	}
	for _, tc := range cases {
		if _, err := c.Create(ctx, "c1", tc.form); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	// Validation failures never reach the store.
	docsWritten, err := docs.Page(ctx, Collection("c1"), docstore.Desc, nil, 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(docsWritten) != 0 {
		t.Fatalf("rejected form wrote %d documents", len(docsWritten))
	}
}

func TestCreateMediaFinalizesAttachment(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("test")
	c := newTestComposer(docs, blobs)
	ctx := context.Background()

	payload := strings.Repeat("jpeg bytes ", 100)
	id, err := c.Create(ctx, "c1", mediaForm(payload))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c.uploader.Wait()

	doc, err := docs.Get(ctx, Collection("c1"), id)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	msg, err := DecodeMessage(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.Content.Attachments) != 1 {
		t.Fatalf("expected exactly one attachment record, got %d", len(msg.Content.Attachments))
	}
	att := msg.Content.Attachments[0]
	if att.Raw == nil {
		t.Fatal("attachment was not finalized with a raw locator")
	}
	if att.Raw.Size != int64(len(payload)) {
		t.Fatalf("unexpected raw size %d, want %d", att.Raw.Size, len(payload))
	}
	if att.Thumbnail == nil {
		t.Fatal("attachment lost its thumbnail locator")
	}
	if !blobs.Has(att.Raw.Path) {
		t.Fatalf("payload missing from blob store at %s", att.Raw.Path)
	}
	if !blobs.Has(att.Thumbnail.Path) {
		t.Fatalf("thumbnail missing from blob store at %s", att.Thumbnail.Path)
	}
	if c.uploader.Tracker().Len() != 0 {
		t.Fatalf("tracker still holds %d entries after completion", c.uploader.Tracker().Len())
	}
}

func TestCreateMediaIsVisibleDuringUpload(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("test")
	blobs.Gate = make(chan struct{})
	c := newTestComposer(docs, blobs)
	ctx := context.Background()

	id, err := c.Create(ctx, "c1", mediaForm("payload bytes"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The message document exists with a provisional record while the
	// payload transfer is still held at the gate.
	doc, err := docs.Get(ctx, Collection("c1"), id)
	if err != nil {
		t.Fatalf("get provisional message: %v", err)
	}
	msg, err := DecodeMessage(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.Content.Attachments) != 1 || msg.Content.Attachments[0].Raw != nil {
		t.Fatalf("expected one provisional attachment, got %+v", msg.Content.Attachments)
	}
	if msg.Content.Attachments[0].Thumbnail == nil {
		t.Fatal("provisional record should already carry the thumbnail locator")
	}

	close(blobs.Gate)
	c.uploader.Wait()

	doc, err = docs.Get(ctx, Collection("c1"), id)
	if err != nil {
		t.Fatalf("get finalized message: %v", err)
	}
	msg, err = DecodeMessage(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.Content.Attachments) != 1 || msg.Content.Attachments[0].Raw == nil {
		t.Fatalf("expected one finalized attachment, got %+v", msg.Content.Attachments)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk pulled") }

func TestCreateRollsBackFailedUpload(t *testing.T) {
	docs := docstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("test")
	c := newTestComposer(docs, blobs)
	ctx := context.Background()

	form := mediaForm("")
	form.Attachments[0].Payload = failingReader{}
	form.Attachments[0].Size = 1024
	id, err := c.Create(ctx, "c1", form)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c.uploader.Wait()

	if _, err := docs.Get(ctx, Collection("c1"), id); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected the message to be rolled back, got %v", err)
	}
	if blobs.Has(attachmentPath("c1", id, "att1_thumb", "photo.jpg")) {
		t.Fatal("thumbnail survived the rollback")
	}
	if c.uploader.Tracker().Len() != 0 {
		t.Fatalf("tracker still holds %d entries after rollback", c.uploader.Tracker().Len())
	}
}

func TestUpdateRewritesTextOnly(t *testing.T) {
	docs := docstore.NewMemoryStore()
	c := newTestComposer(docs, blobstore.NewMemoryStore("test"))
	ctx := context.Background()

	id, err := c.Create(ctx, "c1", CreateForm{Type: domain.ContentText, Text: "before"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.Update(ctx, "c1", id, "after"); err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, err := docs.Get(ctx, Collection("c1"), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	msg, err := DecodeMessage(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Content.Text != "after" {
		t.Fatalf("expected updated text, got %q", msg.Content.Text)
	}
	if msg.UpdatedAt == nil {
		t.Fatal("update did not bump the timestamp")
	}

	if err := c.Update(ctx, "c1", "missing", "x"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing message, got %v", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	docs := docstore.NewMemoryStore()
	c := newTestComposer(docs, blobstore.NewMemoryStore("test"))
	ctx := context.Background()

	id, err := c.Create(ctx, "c1", CreateForm{Type: domain.ContentText, Text: "gone soon"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.Delete(ctx, "c1", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := docs.Get(ctx, Collection("c1"), id); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
