package model

import "time"

// ResourceMode tells where the bytes of a Resource live.
type ResourceMode string

const (
	// ModeReference points at an existing item in the public container.
	ModeReference ResourceMode = "REFERENCE"
	// ModeStored points at a copy held in the thread's warehouse container.
	ModeStored ResourceMode = "STORED"
)

// Valid reports whether m is one of the known modes.
func (m ResourceMode) Valid() bool {
	return m == ModeReference || m == ModeStored
}

// User is an actor of the host messaging system.
type User struct {
	ID           string // platform-assigned, never generated locally
	ConsentGiven bool
	CreatedAt    time.Time
}

// Thread maps one public container the bot observes.
type Thread struct {
	ID                   string  // UUID
	PublicContainerID    string  // immutable once set
	WarehouseContainerID *string // set lazily by the first store-mode ingestion
	OwnerID              string  // immutable once set
	QuickDeleteEnabled   bool
	ReactionRequired     bool
	ReactionEmoji        *string
	CreatedAt            time.Time
}

// HasWarehouse reports whether a warehouse container has been recorded.
func (t *Thread) HasWarehouse() bool {
	return t.WarehouseContainerID != nil && *t.WarehouseContainerID != ""
}

// Resource is one uploaded or referenced artifact version.
type Resource struct {
	ID            string // UUID
	ThreadID      string // Foreign key to Thread (cascade delete)
	Mode          ResourceMode
	Filename      *string
	VersionLabel  string
	Password      *string // plaintext gate, not a credential
	Description   *string
	SourceItemID  string // item id inside the public or warehouse container
	DownloadCount int64
	CreatedAt     time.Time
}

// HasPassword reports whether access is gated behind a password challenge.
func (r *Resource) HasPassword() bool {
	return r.Password != nil && *r.Password != ""
}

// DisplayName returns the filename, or an empty string when none was derived.
func (r *Resource) DisplayName() string {
	if r.Filename == nil {
		return ""
	}
	return *r.Filename
}
