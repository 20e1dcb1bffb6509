package depot

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"depot/internal/model"
)

const (
	// DefaultVersionLabel is recorded when the actor leaves the version empty.
	DefaultVersionLabel = "not provided"
	// untitledFilename is the last filename fallback for reference-mode resources.
	untitledFilename = "untitled"
	// contentFilenameRunes is how much of an item's text is used as a filename.
	contentFilenameRunes = 50
)

// ReferenceRequest records an existing item of the public container as a resource.
type ReferenceRequest struct {
	ActorID      string
	Origin       RequestOrigin
	Locator      string
	VersionLabel string
	Password     string
	Description  string
}

// StoreRequest copies one or more attachments into the thread's warehouse.
type StoreRequest struct {
	ActorID       string
	Origin        RequestOrigin
	ContainerName string
	VersionLabel  string
	Password      string
	Description   string
	Attachments   []Attachment
	// Adopted is set when the attachments come from an existing message
	// of the public container (the "adopt message" context action).
	Adopted *AdoptedSource
}

// AdoptedSource identifies the message whose attachments are being adopted.
type AdoptedSource struct {
	ItemID   string
	AuthorID string
}

// IngestResult describes a committed ingestion.
type IngestResult struct {
	Thread           *model.Thread
	Resources        []*model.Resource
	Skipped          []string
	WarehouseCreated bool
}

// IngestorDeps lists the collaborators of an Ingestor.
type IngestorDeps struct {
	Store      Store
	Channel    ContentChannel
	Warehouse  *WarehouseResolver
	Authorizer *Authorizer
	Consent    *ConsentGate
	Drafts     DraftStore
	Notifier   Notifier
	Tasks      *TaskRunner
	Logger     Logger
	Clock      Clock
	IDs        IDGenerator
	Observer   Observer
	FormTTL    time.Duration
}

// Ingestor runs the reference-mode and store-mode ingestion pipelines.
// Each pipeline either commits every write or rolls all of them back.
type Ingestor struct {
	store     Store
	channel   ContentChannel
	warehouse *WarehouseResolver
	auth      *Authorizer
	consent   *ConsentGate
	drafts    DraftStore
	notifier  Notifier
	tasks     *TaskRunner
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	obs       Observer
	formTTL   time.Duration
}

// NewIngestor creates an Ingestor.
func NewIngestor(d IngestorDeps) *Ingestor {
	if d.Observer == nil {
		d.Observer = NopObserver{}
	}
	if d.FormTTL <= 0 {
		d.FormTTL = 3 * time.Minute
	}
	return &Ingestor{
		store:     d.Store,
		channel:   d.Channel,
		warehouse: d.Warehouse,
		auth:      d.Authorizer,
		consent:   d.Consent,
		drafts:    d.Drafts,
		notifier:  d.Notifier,
		tasks:     d.Tasks,
		logger:    d.Logger,
		clock:     d.Clock,
		idgen:     d.IDs,
		obs:       d.Observer,
		formTTL:   d.FormTTL,
	}
}

// IngestReference records the item addressed by req.Locator as a REFERENCE
// resource. The referenced item itself is never modified.
func (i *Ingestor) IngestReference(ctx context.Context, req ReferenceRequest) (_ *IngestResult, err error) {
	start := i.clock.Now()
	defer func() {
		i.obs.RecordIngestion(string(model.ModeReference), outcomeOf(err), i.clock.Now().Sub(start))
	}()

	if req.Origin == nil {
		return nil, errMissingField("origin")
	}
	loc, err := ParseLocator(req.Locator)
	if err != nil {
		return nil, err
	}
	if loc.ChannelID != req.Origin.ContainerID() {
		return nil, newError(KindValidation, CodeLocationMismatch,
			"the link must point at a message in this thread", nil)
	}

	thread, err := i.auth.Authorize(ctx, req.Origin.ContainerID(), req.ActorID)
	if err != nil {
		return nil, err
	}

	item, err := i.channel.Fetch(ctx, req.Origin.ContainerID(), loc.ItemID)
	if err != nil {
		return nil, classifyFetchError(err)
	}

	filename := deriveFilename(item, req.VersionLabel)
	resource := &model.Resource{
		ID:           i.idgen.New(),
		ThreadID:     thread.ID,
		Mode:         model.ModeReference,
		Filename:     &filename,
		VersionLabel: versionOrDefault(req.VersionLabel),
		Password:     optional(req.Password),
		Description:  optional(req.Description),
		SourceItemID: item.ID,
		CreatedAt:    i.clock.Now(),
	}

	err = withTx(ctx, i.store, func(repo Repository) error {
		if err := repo.CreateResource(ctx, resource); err != nil {
			return fmt.Errorf("creating resource: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.logger.Info("reference recorded", "resource_id", resource.ID, "thread_id", thread.ID, "item_id", item.ID)
	return &IngestResult{Thread: thread, Resources: []*model.Resource{resource}}, nil
}

// IngestStored copies each attachment into the thread's warehouse container and
// records one STORED resource per attachment that was sent. Attachments that
// fail to send are skipped. When none succeed no resource is recorded, but a
// warehouse container created along the way is kept.
func (i *Ingestor) IngestStored(ctx context.Context, req StoreRequest) (_ *IngestResult, err error) {
	start := i.clock.Now()
	defer func() {
		i.obs.RecordIngestion(string(model.ModeStored), outcomeOf(err), i.clock.Now().Sub(start))
	}()

	if req.Origin == nil {
		return nil, errMissingField("origin")
	}
	if len(req.Attachments) == 0 {
		return nil, errMissingField("at least one attachment")
	}

	thread, err := i.auth.Authorize(ctx, req.Origin.ContainerID(), req.ActorID)
	if err != nil {
		return nil, err
	}

	// The warehouse is resolved and recorded before any upload, and no
	// transaction is held while the channel is called.
	current, err := i.store.GetThread(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("reading thread: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("thread %s disappeared", thread.ID)
	}
	thread = current

	handle, err := i.warehouse.GetOrCreate(ctx, i.store, thread, WarehouseTarget{
		GuildID:    req.Origin.GuildID(),
		PublicName: req.ContainerName,
	})
	if err != nil {
		return nil, err
	}

	result := &IngestResult{Thread: thread, WarehouseCreated: handle.Created}
	for _, att := range req.Attachments {
		itemID, err := i.channel.Send(ctx, handle.ContainerID, att)
		i.obs.RecordUpload(att.Size, err)
		if err != nil {
			i.logger.Warn("attachment upload failed, skipping",
				"thread_id", thread.ID, "filename", att.Filename, "error", err)
			result.Skipped = append(result.Skipped, att.Filename)
			continue
		}

		filename := att.Filename
		result.Resources = append(result.Resources, &model.Resource{
			ID:           i.idgen.New(),
			ThreadID:     thread.ID,
			Mode:         model.ModeStored,
			Filename:     &filename,
			VersionLabel: versionOrDefault(req.VersionLabel),
			Password:     optional(req.Password),
			Description:  optional(req.Description),
			SourceItemID: itemID,
			CreatedAt:    i.clock.Now(),
		})
	}

	if len(result.Resources) == 0 {
		return nil, newError(KindExternal, CodeAllUploadsFailed, "none of the attachments could be uploaded", nil)
	}

	err = withTx(ctx, i.store, func(repo Repository) error {
		latest, err := repo.GetThread(ctx, thread.ID)
		if err != nil {
			return fmt.Errorf("re-reading thread: %w", err)
		}
		if latest == nil {
			return fmt.Errorf("thread %s disappeared during upload", thread.ID)
		}
		if !latest.HasWarehouse() || *latest.WarehouseContainerID != handle.ContainerID {
			return fmt.Errorf("warehouse of thread %s changed during upload", thread.ID)
		}
		for _, r := range result.Resources {
			if err := repo.CreateResource(ctx, r); err != nil {
				return fmt.Errorf("creating resource for %s: %w", r.DisplayName(), err)
			}
		}
		return nil
	})
	if err != nil {
		i.logger.Error("recording stored items failed, items are orphaned",
			"thread_id", thread.ID, "container_id", handle.ContainerID, "count", len(result.Resources), "error", err)
		return nil, err
	}

	for _, r := range result.Resources {
		i.logger.Info("resource stored", "resource_id", r.ID, "thread_id", thread.ID, "item_id", r.SourceItemID)
	}

	if req.Adopted != nil {
		i.afterAdoption(ctx, thread, req.Origin, *req.Adopted)
	}
	return result, nil
}

// afterAdoption either removes the adopted message (quick-delete) or reminds
// its author that it can be removed. Runs after commit and never fails the ingestion.
func (i *Ingestor) afterAdoption(ctx context.Context, thread *model.Thread, origin RequestOrigin, src AdoptedSource) {
	if thread.QuickDeleteEnabled {
		i.tasks.Go(ctx, "quick-delete", func(ctx context.Context) error {
			if err := i.channel.Delete(ctx, origin.ContainerID(), src.ItemID); err != nil {
				return fmt.Errorf("deleting adopted message %s: %w", src.ItemID, err)
			}
			i.logger.Info("adopted message deleted", "item_id", src.ItemID)
			return nil
		})
		return
	}

	recipient := src.AuthorID
	if recipient == "" {
		recipient = thread.OwnerID
	}
	notice := Notice{
		RecipientID: recipient,
		Title:       "Your file is now protected",
		Body: "A copy of the attachment was stored in the warehouse. You can delete the original " +
			"message now, or enable quick-delete in the thread settings to remove it automatically next time.",
		Link: JumpLink(origin.GuildID(), origin.ContainerID(), src.ItemID),
	}
	i.tasks.Go(ctx, "adoption-reminder", func(ctx context.Context) error {
		if err := i.notifier.Notify(ctx, notice); err != nil {
			return fmt.Errorf("sending reminder to %s: %w", recipient, err)
		}
		return nil
	})
}

// deriveFilename picks a display name: first attachment name, then the first
// 50 characters of the text, then the version label, then "untitled".
func deriveFilename(item *Item, versionLabel string) string {
	if len(item.Attachments) > 0 && item.Attachments[0].Filename != "" {
		return item.Attachments[0].Filename
	}
	if item.Content != "" {
		if utf8.RuneCountInString(item.Content) > contentFilenameRunes {
			return string([]rune(item.Content)[:contentFilenameRunes]) + "..."
		}
		return item.Content
	}
	if versionLabel != "" {
		return versionLabel
	}
	return untitledFilename
}

func classifyFetchError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return newError(KindExternal, CodeNotFound, "the message could not be found", err)
	case errors.Is(err, ErrForbidden):
		return newError(KindExternal, CodeAccessDenied, "the message cannot be read", err)
	default:
		return newError(KindExternal, CodeAccessDenied, "the message could not be fetched", err)
	}
}

func versionOrDefault(label string) string {
	if label == "" {
		return DefaultVersionLabel
	}
	return label
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
