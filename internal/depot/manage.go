package depot

import (
	"context"
	"fmt"
	"unicode/utf8"

	"depot/internal/model"
)

// maxReactionEmojiRunes bounds the stored reaction emoji.
const maxReactionEmojiRunes = 10

// ThreadSettings is a partial update of a thread's settings; nil fields are left unchanged.
type ThreadSettings struct {
	QuickDelete      *bool
	ReactionRequired *bool
	ReactionEmoji    *string
}

// ResourceManager edits and deletes resources. Callers establish ownership first.
type ResourceManager struct {
	store   Store
	channel ContentChannel
	logger  Logger
}

// NewResourceManager creates a ResourceManager.
func NewResourceManager(store Store, channel ContentChannel, logger Logger) *ResourceManager {
	return &ResourceManager{store: store, channel: channel, logger: logger}
}

// Load returns a resource together with its thread, or (nil, nil, nil) when it does not exist.
func (m *ResourceManager) Load(ctx context.Context, resourceID string) (*model.Resource, *model.Thread, error) {
	res, err := m.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("finding resource: %w", err)
	}
	if res == nil {
		return nil, nil, nil
	}
	thread, err := m.store.GetThread(ctx, res.ThreadID)
	if err != nil {
		return nil, nil, fmt.Errorf("finding thread: %w", err)
	}
	if thread == nil {
		return nil, nil, nil
	}
	return res, thread, nil
}

// UpdateResource overwrites the version label and password. An empty password
// removes the challenge; an empty label falls back to the default label.
func (m *ResourceManager) UpdateResource(ctx context.Context, resourceID, versionLabel, password string) (*model.Resource, error) {
	var updated *model.Resource
	err := withTx(ctx, m.store, func(repo Repository) error {
		res, err := repo.GetResource(ctx, resourceID)
		if err != nil {
			return fmt.Errorf("finding resource: %w", err)
		}
		if res == nil {
			return errResourceGone(nil)
		}

		res.VersionLabel = versionOrDefault(versionLabel)
		res.Password = optional(password)
		if err := repo.UpdateResource(ctx, res); err != nil {
			return fmt.Errorf("updating resource: %w", err)
		}
		updated = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("resource updated", "resource_id", resourceID)
	return updated, nil
}

// DeleteResource removes a resource. For STORED resources the warehouse item is
// deleted first on a best-effort basis; REFERENCE resources never touch the
// original message. Returns false only when the resource does not exist.
func (m *ResourceManager) DeleteResource(ctx context.Context, resourceID string) (bool, error) {
	res, thread, err := m.Load(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}

	if res.Mode == model.ModeStored && thread.HasWarehouse() {
		if err := m.channel.Delete(ctx, *thread.WarehouseContainerID, res.SourceItemID); err != nil {
			m.logger.Warn("warehouse item delete failed, removing record anyway",
				"resource_id", res.ID, "item_id", res.SourceItemID, "error", err)
		}
	}

	deleted, err := m.store.DeleteResource(ctx, res.ID)
	if err != nil {
		return false, fmt.Errorf("deleting resource: %w", err)
	}
	if deleted {
		m.logger.Info("resource deleted", "resource_id", res.ID, "mode", res.Mode)
	}
	return deleted, nil
}

// UpdateThreadSettings applies settings to thread and persists them.
func (m *ResourceManager) UpdateThreadSettings(ctx context.Context, thread *model.Thread, settings ThreadSettings) error {
	if settings.ReactionEmoji != nil && utf8.RuneCountInString(*settings.ReactionEmoji) > maxReactionEmojiRunes {
		return newError(KindValidation, CodeMissingField,
			fmt.Sprintf("the reaction emoji can be at most %d characters", maxReactionEmojiRunes), nil)
	}

	if settings.QuickDelete != nil {
		thread.QuickDeleteEnabled = *settings.QuickDelete
	}
	if settings.ReactionRequired != nil {
		thread.ReactionRequired = *settings.ReactionRequired
	}
	if settings.ReactionEmoji != nil {
		thread.ReactionEmoji = optional(*settings.ReactionEmoji)
	}

	if err := m.store.UpdateThreadSettings(ctx, thread); err != nil {
		return fmt.Errorf("updating thread settings: %w", err)
	}
	m.logger.Info("thread settings updated", "thread_id", thread.ID,
		"quick_delete", thread.QuickDeleteEnabled, "reaction_required", thread.ReactionRequired)
	return nil
}
