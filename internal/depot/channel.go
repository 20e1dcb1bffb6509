package depot

import (
	"context"
	"io"
	"time"
)

// ContentChannel is the external service that holds bytes. Containers hold
// items; items hold zero or more attachments. Implementations return errors
// wrapping ErrNotFound or ErrForbidden for missing or unreadable targets.
type ContentChannel interface {
	// Send stores one attachment as a new item in the container and returns the item id.
	Send(ctx context.Context, containerID string, attachment Attachment) (string, error)

	// Fetch returns the live item with a freshly minted access pointer.
	Fetch(ctx context.Context, containerID, itemID string) (*Item, error)

	// Delete removes an item from a container.
	Delete(ctx context.Context, containerID, itemID string) error

	// CreateContainer creates a new proxy container under root and posts the header.
	CreateContainer(ctx context.Context, root string, header ContainerHeader) (string, error)

	// FetchContainer checks that a container still exists.
	FetchContainer(ctx context.Context, containerID string) error

	// ValidateRoot verifies that root exists and can hold new containers.
	ValidateRoot(ctx context.Context, root string) error
}

// Attachment is an upload payload supplied by the front end.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ItemAttachment describes an attachment already held by an item.
type ItemAttachment struct {
	Filename    string
	ContentType string
	Size        int64
}

// Item is a live item fetched from a container.
type Item struct {
	ID          string
	ContainerID string
	AuthorID    string
	Content     string
	Attachments []ItemAttachment
	Pointer     AccessPointer
}

// AccessPointer is a time-limited handle for downloading an item's bytes.
// It is minted on every fetch and never persisted.
type AccessPointer struct {
	URL       string
	ExpiresAt time.Time
}

// ContainerHeader is posted as the first entry of a new warehouse container.
type ContainerHeader struct {
	Name              string
	PublicContainerID string
	PublicLink        string
	OwnerID           string
}

// Notifier delivers private messages to actors.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// Notice is a private message payload.
type Notice struct {
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Link        string `json:"link,omitempty"`
}
