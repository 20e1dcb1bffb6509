package depot

import (
	"context"
	"errors"
	"fmt"

	"depot/internal/model"
)

// Authorizer decides whether an actor may ingest into or manage a thread.
// The first actor to touch an unseen public container becomes its owner.
type Authorizer struct {
	store  Store
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(store Store, logger Logger, clock Clock, idgen IDGenerator) *Authorizer {
	return &Authorizer{store: store, logger: logger, clock: clock, idgen: idgen}
}

// Authorize returns the thread for publicContainerID when actorID owns it,
// creating the thread with actorID as owner if it does not exist yet.
// A non-owner gets a KindAuthorization error and nothing is written.
func (a *Authorizer) Authorize(ctx context.Context, publicContainerID, actorID string) (*model.Thread, error) {
	if publicContainerID == "" {
		return nil, errMissingField("container id")
	}
	if actorID == "" {
		return nil, errMissingField("actor id")
	}

	thread, err := a.store.GetThreadByPublicID(ctx, publicContainerID)
	if err != nil {
		return nil, fmt.Errorf("finding thread: %w", err)
	}
	if thread == nil {
		thread, err = a.createThread(ctx, publicContainerID, actorID)
		if err != nil {
			return nil, err
		}
	}

	if thread.OwnerID != actorID {
		a.logger.Debug("authorization denied", "container_id", publicContainerID, "actor_id", actorID)
		return nil, errNotOwner()
	}
	return thread, nil
}

// IsOwner reports whether actorID owns the thread without creating anything.
// An unseen container counts as owned, since the actor would become its owner.
func (a *Authorizer) IsOwner(ctx context.Context, publicContainerID, actorID string) (bool, error) {
	thread, err := a.store.GetThreadByPublicID(ctx, publicContainerID)
	if err != nil {
		return false, fmt.Errorf("finding thread: %w", err)
	}
	if thread == nil {
		return true, nil
	}
	return thread.OwnerID == actorID, nil
}

// createThread inserts a thread owned by actorID. When another request wins the
// insert, the winner's row is returned instead.
func (a *Authorizer) createThread(ctx context.Context, publicContainerID, actorID string) (*model.Thread, error) {
	thread := &model.Thread{
		ID:                a.idgen.New(),
		PublicContainerID: publicContainerID,
		OwnerID:           actorID,
		CreatedAt:         a.clock.Now(),
	}
	err := a.store.CreateThread(ctx, thread)
	if err == nil {
		a.logger.Info("thread registered", "container_id", publicContainerID, "owner_id", actorID)
		return thread, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return nil, fmt.Errorf("creating thread: %w", err)
	}

	existing, err := a.store.GetThreadByPublicID(ctx, publicContainerID)
	if err != nil {
		return nil, fmt.Errorf("re-reading thread: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("thread for %s vanished after duplicate insert", publicContainerID)
	}
	a.logger.Debug("thread created concurrently", "container_id", publicContainerID, "owner_id", existing.OwnerID)
	return existing, nil
}
