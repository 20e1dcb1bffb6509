package depot

import (
	"context"
	"errors"
	"fmt"

	"depot/internal/model"
)

// Grouping partitions a thread's resources by mode. Secure holds STORED
// resources, Normal holds REFERENCE resources, each oldest first.
type Grouping struct {
	Thread *model.Thread
	Secure []*model.Resource
	Normal []*model.Resource
}

// Empty reports whether the thread has no resources.
func (g *Grouping) Empty() bool {
	return len(g.Secure) == 0 && len(g.Normal) == 0
}

// Resolver lists resources and mints fresh access pointers for them.
type Resolver struct {
	store   Store
	channel ContentChannel
	tasks   *TaskRunner
	logger  Logger
	clock   Clock
	obs     Observer
}

// NewResolver creates a Resolver.
func NewResolver(store Store, channel ContentChannel, tasks *TaskRunner, logger Logger, clock Clock, obs Observer) *Resolver {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Resolver{store: store, channel: channel, tasks: tasks, logger: logger, clock: clock, obs: obs}
}

// ListResources returns the resources of the thread mapped to publicContainerID.
// An unseen container yields an empty grouping; listing never assigns an owner.
func (r *Resolver) ListResources(ctx context.Context, publicContainerID string) (*Grouping, error) {
	thread, err := r.store.GetThreadByPublicID(ctx, publicContainerID)
	if err != nil {
		return nil, fmt.Errorf("finding thread: %w", err)
	}
	if thread == nil {
		return &Grouping{}, nil
	}

	resources, err := r.store.ListResourcesByThread(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}

	g := &Grouping{Thread: thread}
	for _, res := range resources {
		if res.Mode == model.ModeStored {
			g.Secure = append(g.Secure, res)
		} else {
			g.Normal = append(g.Normal, res)
		}
	}
	return g, nil
}

// RequiresPassword reports whether resolving resourceID needs a password.
func (r *Resolver) RequiresPassword(ctx context.Context, resourceID string) (bool, error) {
	res, err := r.store.GetResource(ctx, resourceID)
	if err != nil {
		return false, fmt.Errorf("finding resource: %w", err)
	}
	if res == nil {
		return false, errResourceGone(nil)
	}
	return res.HasPassword(), nil
}

// ResolveAccess fetches the live item behind a resource and returns its
// freshly minted access pointer. When the resource has a password, candidate
// must equal it exactly. A successful resolution increments the download
// count in the background.
func (r *Resolver) ResolveAccess(ctx context.Context, resourceID, candidate string) (_ *AccessPointer, err error) {
	start := r.clock.Now()
	defer func() {
		r.obs.RecordResolution(outcomeOf(err), r.clock.Now().Sub(start))
	}()

	res, err := r.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("finding resource: %w", err)
	}
	if res == nil {
		return nil, errResourceGone(nil)
	}

	if res.HasPassword() && candidate != *res.Password {
		r.logger.Debug("password mismatch", "resource_id", resourceID)
		return nil, errPasswordMismatch()
	}

	thread, err := r.store.GetThread(ctx, res.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("finding thread: %w", err)
	}
	if thread == nil {
		return nil, errResourceGone(nil)
	}

	containerID := thread.PublicContainerID
	if res.Mode == model.ModeStored {
		if !thread.HasWarehouse() {
			return nil, errResourceGone(fmt.Errorf("thread %s has no warehouse", thread.ID))
		}
		containerID = *thread.WarehouseContainerID
	}

	item, err := r.channel.Fetch(ctx, containerID, res.SourceItemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
			return nil, errResourceGone(err)
		}
		return nil, newError(KindExternal, CodeAccessDenied, "the file could not be reached right now", err)
	}

	id := res.ID
	r.tasks.Go(ctx, "download-count", func(ctx context.Context) error {
		return r.store.IncrementDownloadCount(ctx, id)
	})

	r.logger.Info("access resolved", "resource_id", res.ID, "mode", res.Mode)
	pointer := item.Pointer
	return &pointer, nil
}
