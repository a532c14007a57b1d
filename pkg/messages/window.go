// Package messages is the client-side message pipeline: the live
// window over a chat's most recent messages, bidirectional cursor
// pagination into history, display resolution of raw documents, and
// message creation with out-of-band attachment uploads.
package messages

import (
	"sync"
	"time"

	"chatsync/pkg/docstore"
	"chatsync/pkg/domain"
)

// Direction names a pagination direction: Top pages into older
// history, Bottom toward newer messages.
type Direction string

const (
	Top    Direction = "top"
	Bottom Direction = "bottom"
)

// DisplayAttachment is an attachment in display form: the thumbnail
// locator replaced by its inlined bytes.
type DisplayAttachment struct {
	domain.Attachment
	ThumbData string `json:"thumbData,omitempty"`
}

// DisplayMessage is the fully denormalized display form of a message.
type DisplayMessage struct {
	ID          string              `json:"id"`
	Type        domain.ContentType  `json:"type"`
	Text        string              `json:"text,omitempty"`
	Attachments []DisplayAttachment `json:"attachments,omitempty"`
	Sender      domain.DisplayUser  `json:"sender"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   *time.Time          `json:"updatedAt,omitempty"`
}

// Window owns the in-memory ordered message sequence of one chat view
// together with its pagination cursors and load flags. All mutation
// goes through its methods; callers get snapshot copies only.
type Window struct {
	mu        sync.Mutex
	msgs      []DisplayMessage
	cursors   map[Direction]*docstore.Document
	loading   bool
	firstDone bool
}

// NewWindow initializes an empty window.
func NewWindow() *Window {
	return &Window{cursors: make(map[Direction]*docstore.Document)}
}

// Append adds a message at the newest end.
func (w *Window) Append(msg DisplayMessage) {
	w.mu.Lock()
	w.msgs = append(w.msgs, msg)
	w.mu.Unlock()
}

// Prepend adds a message at the oldest end.
func (w *Window) Prepend(msg DisplayMessage) {
	w.mu.Lock()
	w.msgs = append([]DisplayMessage{msg}, w.msgs...)
	w.mu.Unlock()
}

// Upsert appends the message, or replaces in place when its id is
// already loaded. The live feed can deliver the same document twice
// around subscription startup; reconciling by id keeps the sequence
// free of duplicates.
func (w *Window) Upsert(msg DisplayMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.msgs {
		if w.msgs[i].ID == msg.ID {
			w.msgs[i] = msg
			return
		}
	}
	w.msgs = append(w.msgs, msg)
}

// Modify replaces the message with the same id; unknown ids are
// ignored.
func (w *Window) Modify(msg DisplayMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.msgs {
		if w.msgs[i].ID == msg.ID {
			w.msgs[i] = msg
			return
		}
	}
}

// Remove drops the message with the given id from the sequence.
func (w *Window) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.msgs[:0]
	for _, m := range w.msgs {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	w.msgs = kept
}

// Reset clears the sequence, cursors and flags; used on chat switch.
func (w *Window) Reset() {
	w.mu.Lock()
	w.msgs = nil
	w.cursors = make(map[Direction]*docstore.Document)
	w.loading = false
	w.firstDone = false
	w.mu.Unlock()
}

// Snapshot returns a copy of the current sequence.
func (w *Window) Snapshot() []DisplayMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]DisplayMessage, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// Len reports the number of loaded messages.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

// Cursor returns the direction's continuation handle; nil means the
// direction is unset or exhausted and further loads are no-ops.
func (w *Window) Cursor(dir Direction) *docstore.Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursors[dir]
}

// SetCursor advances (doc non-nil) or exhausts (nil) a direction.
func (w *Window) SetCursor(dir Direction, doc *docstore.Document) {
	w.mu.Lock()
	w.cursors[dir] = doc
	w.mu.Unlock()
}

// TryBeginLoad flips the single-flight flag; false means a load is
// already in flight and the caller must drop its request.
func (w *Window) TryBeginLoad() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loading {
		return false
	}
	w.loading = true
	return true
}

// EndLoad clears the single-flight flag.
func (w *Window) EndLoad() {
	w.mu.Lock()
	w.loading = false
	w.mu.Unlock()
}

// MarkFirstLoaded reports true exactly once per window lifetime, used
// to guard the first-load-complete signal against duplicates.
func (w *Window) MarkFirstLoaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.firstDone {
		return false
	}
	w.firstDone = true
	return true
}
