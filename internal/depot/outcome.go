package depot

import (
	"context"
	"time"

	"depot/internal/model"
)

// EntryOutcome is the result of an ingestion entry point. The concrete types
// are Rejected, ConsentRequired and FormPrompt.
type EntryOutcome interface {
	isEntryOutcome()
}

// Rejected means the request cannot proceed.
type Rejected struct {
	Code   string
	Reason string
}

// ConsentRequired means the actor must accept the disclosure first.
type ConsentRequired struct {
	Disclosure Prompt
}

// FormPrompt asks the actor to fill in the upload form.
type FormPrompt struct {
	Mode       model.ResourceMode
	Prefilled  Prefilled
	DraftToken string
	ExpiresAt  time.Time
}

func (Rejected) isEntryOutcome()        {}
func (ConsentRequired) isEntryOutcome() {}
func (FormPrompt) isEntryOutcome()      {}

// Prefilled carries form defaults known at entry time.
type Prefilled struct {
	Locator  string
	Filename string
}

// Prompt is a semantic payload with a choice for the actor.
type Prompt struct {
	Title   string
	Body    string
	Choices []string
}

// Reply is a semantic payload for the front end to render.
type Reply struct {
	Success bool
	Title   string
	Body    string
	Private bool
}

// Draft is an upload flow between entry and submission.
type Draft struct {
	Token        string             `json:"token"`
	ActorID      string             `json:"actor_id"`
	OriginKind   string             `json:"origin_kind"`
	ContainerID  string             `json:"container_id"`
	GuildID      string             `json:"guild_id"`
	Mode         model.ResourceMode `json:"mode"`
	Locator      string             `json:"locator,omitempty"`
	SourceItemID string             `json:"source_item_id,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
}

// Origin returns the request origin the draft was opened from.
func (d *Draft) Origin() RequestOrigin {
	return originFromKind(d.OriginKind, d.ContainerID, d.GuildID)
}

// DraftStore keeps drafts until they are submitted or expire.
type DraftStore interface {
	Put(ctx context.Context, draft *Draft) error
	// Get returns (nil, nil) when the draft does not exist or has expired.
	Get(ctx context.Context, token string) (*Draft, error)
	Delete(ctx context.Context, token string) error
}
