package domain

import (
	"errors"
	"fmt"
	"time"
)

// ContentType discriminates the message content union.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentMedia ContentType = "media"
	ContentFile  ContentType = "file"
)

// Dimensions describes one named size variant of a media attachment.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StorageLocator points at a stored blob. A locator is only valid once
// the corresponding upload reached terminal success.
type StorageLocator struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
}

// Attachment is one entry of a media or file message. Raw stays nil
// while the byte payload is still uploading; the persisted record
// exists with the locator absent until the transfer finishes.
type Attachment struct {
	ID        string                `json:"id"`
	FileType  string                `json:"fileType"`
	Name      string                `json:"name"`
	Raw       *StorageLocator       `json:"raw,omitempty"`
	Thumbnail *StorageLocator       `json:"thumbnail,omitempty"`
	Sizes     map[string]Dimensions `json:"sizes,omitempty"`
}

// MessageContent is a tagged variant: text carries no attachments,
// media and file carry an ordered attachment sequence.
type MessageContent struct {
	Type        ContentType  `json:"type"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

var (
	// ErrInvalidContent indicates a content record violating the
	// variant rules, rejected at construction.
	ErrInvalidContent = errors.New("invalid message content")
)

// Validate enforces the variant invariants.
func (c MessageContent) Validate() error {
	switch c.Type {
	case ContentText:
		if len(c.Attachments) != 0 {
			return fmt.Errorf("%w: text content cannot carry attachments", ErrInvalidContent)
		}
	case ContentMedia, ContentFile:
		if len(c.Attachments) == 0 {
			return fmt.Errorf("%w: %s content requires attachments", ErrInvalidContent, c.Type)
		}
		for _, a := range c.Attachments {
			if a.ID == "" {
				return fmt.Errorf("%w: attachment without id", ErrInvalidContent)
			}
		}
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidContent, c.Type)
	}
	return nil
}

// Message is the persisted form of a chat message. ID is immutable and
// unique within the parent chat; CreatedAt is assigned at write time by
// the document store.
type Message struct {
	ID        string         `json:"id"`
	Content   MessageContent `json:"content"`
	SenderID  string         `json:"senderId"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// MessageBody is the payload persisted inside a message document; id
// and timestamps live on the document envelope.
type MessageBody struct {
	Content  MessageContent `json:"content"`
	SenderID string         `json:"senderId"`
}

// DisplayUser is the denormalized sender info resolved lazily for
// display.
type DisplayUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarURL,omitempty"`
}

// UserProfile is the persisted user document.
type UserProfile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	AvatarURL    string    `json:"avatarURL,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Display returns the denormalized display form of the profile.
func (u UserProfile) Display() DisplayUser {
	return DisplayUser{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}
