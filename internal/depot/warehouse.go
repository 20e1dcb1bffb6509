package depot

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"depot/internal/model"
)

// DefaultWarehousePrefix is used for warehouse container names when none is configured.
const DefaultWarehousePrefix = "📦 Warehouse"

// WarehouseHandle identifies the warehouse container of a thread.
type WarehouseHandle struct {
	ContainerID string
	Created     bool
}

// WarehouseTarget carries the public container details used in the header
// of a newly created warehouse.
type WarehouseTarget struct {
	GuildID    string
	PublicName string
}

// WarehouseResolver locates or lazily creates the private proxy container
// that holds stored bytes for a thread.
type WarehouseResolver struct {
	channel ContentChannel
	root    string
	prefix  string
	logger  Logger
	group   singleflight.Group
}

// NewWarehouseResolver creates a WarehouseResolver. An empty root is allowed
// here and reported as a configuration error on first use.
func NewWarehouseResolver(channel ContentChannel, root, prefix string, logger Logger) *WarehouseResolver {
	if prefix == "" {
		prefix = DefaultWarehousePrefix
	}
	return &WarehouseResolver{channel: channel, root: root, prefix: prefix, logger: logger}
}

// Check verifies that the configured root is usable.
func (w *WarehouseResolver) Check(ctx context.Context) error {
	if w.root == "" {
		return ErrConfiguration("no warehouse root is configured; ask an administrator to set warehouse.root")
	}
	if err := w.channel.ValidateRoot(ctx, w.root); err != nil {
		return ErrAccess(err)
	}
	return nil
}

// GetOrCreate returns the thread's warehouse container, creating it when the
// thread has none or the recorded one was deleted externally. The channel is
// called before anything is written, so repo should be the Store itself rather
// than an open transaction. The new id is recorded with a compare-and-set and
// thread is updated in place.
func (w *WarehouseResolver) GetOrCreate(ctx context.Context, repo Repository, thread *model.Thread, target WarehouseTarget) (*WarehouseHandle, error) {
	if w.root == "" {
		return nil, ErrConfiguration("no warehouse root is configured; ask an administrator to set warehouse.root")
	}

	if thread.HasWarehouse() {
		err := w.channel.FetchContainer(ctx, *thread.WarehouseContainerID)
		switch {
		case err == nil:
			return &WarehouseHandle{ContainerID: *thread.WarehouseContainerID}, nil
		case errors.Is(err, ErrNotFound):
			w.logger.Warn("warehouse container missing, recreating",
				"thread_id", thread.ID, "container_id", *thread.WarehouseContainerID)
		case errors.Is(err, ErrForbidden):
			return nil, ErrAccess(err)
		default:
			return nil, newError(KindExternal, CodeAccessDenied, "the warehouse container could not be reached", err)
		}
	}

	if err := w.channel.ValidateRoot(ctx, w.root); err != nil {
		return nil, ErrAccess(err)
	}

	header := w.header(thread, target)
	key := thread.ID
	if thread.WarehouseContainerID != nil {
		key += "/" + *thread.WarehouseContainerID
	}
	v, err, shared := w.group.Do(key, func() (any, error) {
		return w.channel.CreateContainer(ctx, w.root, header)
	})
	if err != nil {
		return nil, ErrCreation(err)
	}
	containerID := v.(string)
	if !shared {
		w.logger.Info("warehouse container created", "thread_id", thread.ID, "container_id", containerID)
	}

	// A lost race leaves the row unchanged; ErrDuplicate means the id belongs to
	// another thread and is returned as is.
	changed, err := repo.SetThreadWarehouse(ctx, thread.ID, thread.WarehouseContainerID, containerID)
	if err != nil {
		return nil, fmt.Errorf("recording warehouse container: %w", err)
	}
	if changed {
		thread.WarehouseContainerID = &containerID
		return &WarehouseHandle{ContainerID: containerID, Created: true}, nil
	}

	// Another request recorded a warehouse first; use theirs.
	current, err := repo.GetThread(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("re-reading thread: %w", err)
	}
	if current == nil || !current.HasWarehouse() {
		return nil, fmt.Errorf("thread %s has no warehouse after concurrent update", thread.ID)
	}
	if *current.WarehouseContainerID != containerID {
		w.logger.Warn("warehouse container orphaned by concurrent creation",
			"thread_id", thread.ID, "orphan_id", containerID, "container_id", *current.WarehouseContainerID)
	}
	thread.WarehouseContainerID = current.WarehouseContainerID
	return &WarehouseHandle{ContainerID: *current.WarehouseContainerID}, nil
}

func (w *WarehouseResolver) header(thread *model.Thread, target WarehouseTarget) ContainerHeader {
	name := target.PublicName
	if name == "" {
		name = thread.PublicContainerID
	}
	link := ""
	if target.GuildID != "" {
		link = ContainerLink(target.GuildID, thread.PublicContainerID)
	}
	return ContainerHeader{
		Name:              w.prefix + " | " + name,
		PublicContainerID: thread.PublicContainerID,
		PublicLink:        link,
		OwnerID:           thread.OwnerID,
	}
}
