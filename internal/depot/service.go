package depot

import (
	"context"
	"fmt"
	"time"

	"depot/internal/model"
)

// Deps lists everything DepotService needs. Nothing is shared through
// package-level state; each service below receives its collaborators here.
type Deps struct {
	Store           Store
	Channel         ContentChannel
	Drafts          DraftStore
	Notifier        Notifier
	Logger          Logger
	Clock           Clock
	IDs             IDGenerator
	Observer        Observer
	WarehouseRoot   string
	WarehousePrefix string
	FormTTL         time.Duration
	TaskConcurrency int64
	TaskTimeout     time.Duration
}

// DepotService wires the consent gate, authorizer, warehouse resolver,
// ingestor, resolver and resource manager together for the front end.
type DepotService struct {
	Consent   *ConsentGate
	Auth      *Authorizer
	Warehouse *WarehouseResolver
	Ingest    *Ingestor
	Resolve   *Resolver
	Manage    *ResourceManager

	tasks  *TaskRunner
	logger Logger
}

// NewDepotService creates a DepotService from its dependencies.
func NewDepotService(d Deps) *DepotService {
	if d.Logger == nil {
		d.Logger = NewNopLogger()
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.IDs == nil {
		d.IDs = UUIDGenerator{}
	}
	if d.Observer == nil {
		d.Observer = NopObserver{}
	}

	tasks := NewTaskRunner(d.TaskConcurrency, d.TaskTimeout, d.Logger, d.Observer)
	consent := NewConsentGate(d.Store, d.Logger, d.Clock)
	auth := NewAuthorizer(d.Store, d.Logger, d.Clock, d.IDs)
	warehouse := NewWarehouseResolver(d.Channel, d.WarehouseRoot, d.WarehousePrefix, d.Logger)

	return &DepotService{
		Consent:   consent,
		Auth:      auth,
		Warehouse: warehouse,
		Ingest: NewIngestor(IngestorDeps{
			Store:      d.Store,
			Channel:    d.Channel,
			Warehouse:  warehouse,
			Authorizer: auth,
			Consent:    consent,
			Drafts:     d.Drafts,
			Notifier:   d.Notifier,
			Tasks:      tasks,
			Logger:     d.Logger,
			Clock:      d.Clock,
			IDs:        d.IDs,
			Observer:   d.Observer,
			FormTTL:    d.FormTTL,
		}),
		Resolve: NewResolver(d.Store, d.Channel, tasks, d.Logger, d.Clock, d.Observer),
		Manage:  NewResourceManager(d.Store, d.Channel, d.Logger),
		tasks:   tasks,
		logger:  d.Logger,
	}
}

// EditResource updates a resource on behalf of actorID, who must own its thread.
func (s *DepotService) EditResource(ctx context.Context, actorID, resourceID, versionLabel, password string) (*model.Resource, error) {
	if _, err := s.requireResourceOwner(ctx, actorID, resourceID); err != nil {
		return nil, err
	}
	return s.Manage.UpdateResource(ctx, resourceID, versionLabel, password)
}

// RemoveResource deletes a resource on behalf of actorID, who must own its thread.
func (s *DepotService) RemoveResource(ctx context.Context, actorID, resourceID string) (bool, error) {
	thread, err := s.requireResourceOwner(ctx, actorID, resourceID)
	if err != nil {
		return false, err
	}
	if thread == nil {
		return false, nil
	}
	return s.Manage.DeleteResource(ctx, resourceID)
}

// UpdateThreadSettings changes the settings of the thread mapped to
// publicContainerID. The first actor to do so becomes the owner.
func (s *DepotService) UpdateThreadSettings(ctx context.Context, actorID, publicContainerID string, settings ThreadSettings) (*model.Thread, error) {
	thread, err := s.Auth.Authorize(ctx, publicContainerID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.Manage.UpdateThreadSettings(ctx, thread, settings); err != nil {
		return nil, err
	}
	return thread, nil
}

// requireResourceOwner returns the resource's thread when actorID owns it.
// A missing resource returns (nil, nil).
func (s *DepotService) requireResourceOwner(ctx context.Context, actorID, resourceID string) (*model.Thread, error) {
	res, thread, err := s.Manage.Load(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	if thread.OwnerID != actorID {
		return nil, errNotOwner()
	}
	return thread, nil
}

// Reply translates the result of an operation into a payload for the front end.
// Internal errors are logged with their detail and shown as a generic failure.
func (s *DepotService) Reply(operation string, origin RequestOrigin, err error, success string) Reply {
	private := origin == nil || origin.Private()
	if err == nil {
		return Reply{Success: true, Title: "Done", Body: success, Private: private}
	}

	e, ok := AsError(err)
	if !ok || e.Kind == KindInternal {
		s.logger.Error("operation failed", "operation", operation, "error", err)
		return Reply{Title: "Something went wrong", Body: "The request could not be completed. Please try again later.", Private: true}
	}

	s.logger.Debug("operation refused", "operation", operation, "kind", e.Kind.String(), "code", e.Code)
	title := "Request refused"
	switch e.Kind {
	case KindAuthorization:
		title = "Permission denied"
	case KindConfiguration:
		title = "Not configured"
	case KindExternal:
		title = "Upstream problem"
	}
	return Reply{Title: title, Body: e.Message, Private: true}
}

// DescribeIngestion builds the success text for a committed ingestion.
func DescribeIngestion(res *IngestResult) string {
	body := fmt.Sprintf("%d resource(s) recorded.", len(res.Resources))
	if len(res.Skipped) > 0 {
		body += fmt.Sprintf(" %d attachment(s) could not be uploaded: %v", len(res.Skipped), res.Skipped)
	}
	return body
}

// Shutdown waits for background tasks to finish.
func (s *DepotService) Shutdown() {
	s.tasks.Wait()
}
