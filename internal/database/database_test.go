package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"depot/internal/depot"
	"depot/internal/model"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newThread(publicID, owner string) *model.Thread {
	return &model.Thread{
		ID:                uuid.New().String(),
		PublicContainerID: publicID,
		OwnerID:           owner,
		CreatedAt:         testTime,
	}
}

func newResource(threadID string, mode model.ResourceMode, label string, created time.Time) *model.Resource {
	return &model.Resource{
		ID:           uuid.New().String(),
		ThreadID:     threadID,
		Mode:         mode,
		VersionLabel: label,
		SourceItemID: "item-" + label,
		CreatedAt:    created,
	}
}

func strPtr(s string) *string { return &s }

func TestSQLDatabase_Users(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when user not found", func(t *testing.T) {
		db := newTestDB(t)

		user, err := db.GetUser(ctx, "missing")
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if user != nil {
			t.Errorf("GetUser() = %v, want nil", user)
		}
	})

	t.Run("creates and records consent", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.CreateUser(ctx, &model.User{ID: "u-1", CreatedAt: testTime}); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		if err := db.SetUserConsent(ctx, "u-1", true); err != nil {
			t.Fatalf("SetUserConsent() error = %v", err)
		}

		user, err := db.GetUser(ctx, "u-1")
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if user == nil {
			t.Fatal("GetUser() returned nil")
		}
		if !user.ConsentGiven {
			t.Error("ConsentGiven = false, want true")
		}
		if !user.CreatedAt.Equal(testTime) {
			t.Errorf("CreatedAt = %v, want %v", user.CreatedAt, testTime)
		}
	})

	t.Run("duplicate user maps to ErrDuplicate", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.CreateUser(ctx, &model.User{ID: "u-1", CreatedAt: testTime}); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		err := db.CreateUser(ctx, &model.User{ID: "u-1", CreatedAt: testTime})
		if !errors.Is(err, depot.ErrDuplicate) {
			t.Errorf("CreateUser() error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("consent on unknown user fails", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.SetUserConsent(ctx, "ghost", true); err == nil {
			t.Error("SetUserConsent() expected error for unknown user")
		}
	})
}

func TestSQLDatabase_Threads(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips all fields", func(t *testing.T) {
		db := newTestDB(t)

		thread := newThread("c-1", "owner")
		thread.QuickDeleteEnabled = true
		thread.ReactionRequired = true
		thread.ReactionEmoji = strPtr("👍")
		if err := db.CreateThread(ctx, thread); err != nil {
			t.Fatalf("CreateThread() error = %v", err)
		}

		got, err := db.GetThreadByPublicID(ctx, "c-1")
		if err != nil {
			t.Fatalf("GetThreadByPublicID() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetThreadByPublicID() returned nil")
		}
		if got.ID != thread.ID {
			t.Errorf("ID = %q, want %q", got.ID, thread.ID)
		}
		if got.OwnerID != "owner" {
			t.Errorf("OwnerID = %q, want %q", got.OwnerID, "owner")
		}
		if got.HasWarehouse() {
			t.Errorf("WarehouseContainerID = %v, want nil", *got.WarehouseContainerID)
		}
		if !got.QuickDeleteEnabled || !got.ReactionRequired {
			t.Errorf("settings = %v/%v, want true/true", got.QuickDeleteEnabled, got.ReactionRequired)
		}
		if got.ReactionEmoji == nil || *got.ReactionEmoji != "👍" {
			t.Errorf("ReactionEmoji = %v, want 👍", got.ReactionEmoji)
		}
	})

	t.Run("duplicate public container maps to ErrDuplicate", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.CreateThread(ctx, newThread("c-1", "alice")); err != nil {
			t.Fatalf("CreateThread() error = %v", err)
		}
		err := db.CreateThread(ctx, newThread("c-1", "bob"))
		if !errors.Is(err, depot.ErrDuplicate) {
			t.Errorf("CreateThread() error = %v, want ErrDuplicate", err)
		}

		got, err := db.GetThreadByPublicID(ctx, "c-1")
		if err != nil {
			t.Fatalf("GetThreadByPublicID() error = %v", err)
		}
		if got.OwnerID != "alice" {
			t.Errorf("OwnerID = %q, want %q", got.OwnerID, "alice")
		}
	})

	t.Run("set warehouse only when unset", func(t *testing.T) {
		db := newTestDB(t)

		thread := newThread("c-1", "owner")
		if err := db.CreateThread(ctx, thread); err != nil {
			t.Fatalf("CreateThread() error = %v", err)
		}

		ok, err := db.SetThreadWarehouse(ctx, thread.ID, nil, "w-1")
		if err != nil {
			t.Fatalf("SetThreadWarehouse() error = %v", err)
		}
		if !ok {
			t.Fatal("SetThreadWarehouse() = false, want true for first writer")
		}

		ok, err = db.SetThreadWarehouse(ctx, thread.ID, nil, "w-2")
		if err != nil {
			t.Fatalf("SetThreadWarehouse() error = %v", err)
		}
		if ok {
			t.Error("SetThreadWarehouse() = true, want false when already set")
		}

		got, _ := db.GetThread(ctx, thread.ID)
		if got.WarehouseContainerID == nil || *got.WarehouseContainerID != "w-1" {
			t.Errorf("WarehouseContainerID = %v, want w-1", got.WarehouseContainerID)
		}
	})

	t.Run("replace warehouse compares expected value", func(t *testing.T) {
		db := newTestDB(t)

		thread := newThread("c-1", "owner")
		if err := db.CreateThread(ctx, thread); err != nil {
			t.Fatalf("CreateThread() error = %v", err)
		}
		if _, err := db.SetThreadWarehouse(ctx, thread.ID, nil, "w-1"); err != nil {
			t.Fatalf("SetThreadWarehouse() error = %v", err)
		}

		ok, err := db.SetThreadWarehouse(ctx, thread.ID, strPtr("stale"), "w-2")
		if err != nil {
			t.Fatalf("SetThreadWarehouse() error = %v", err)
		}
		if ok {
			t.Error("SetThreadWarehouse() = true, want false for wrong expected value")
		}

		ok, err = db.SetThreadWarehouse(ctx, thread.ID, strPtr("w-1"), "w-2")
		if err != nil {
			t.Fatalf("SetThreadWarehouse() error = %v", err)
		}
		if !ok {
			t.Error("SetThreadWarehouse() = false, want true for matching expected value")
		}
	})

	t.Run("updates settings", func(t *testing.T) {
		db := newTestDB(t)

		thread := newThread("c-1", "owner")
		if err := db.CreateThread(ctx, thread); err != nil {
			t.Fatalf("CreateThread() error = %v", err)
		}

		thread.QuickDeleteEnabled = true
		thread.ReactionEmoji = strPtr("✅")
		if err := db.UpdateThreadSettings(ctx, thread); err != nil {
			t.Fatalf("UpdateThreadSettings() error = %v", err)
		}

		got, _ := db.GetThread(ctx, thread.ID)
		if !got.QuickDeleteEnabled {
			t.Error("QuickDeleteEnabled = false, want true")
		}
		if got.ReactionEmoji == nil || *got.ReactionEmoji != "✅" {
			t.Errorf("ReactionEmoji = %v, want ✅", got.ReactionEmoji)
		}
	})
}

func TestSQLDatabase_Resources(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*SQLDatabase, *model.Thread) {
		db := newTestDB(t)
		thread := newThread("c-1", "owner")
		if err := db.CreateThread(ctx, thread); err != nil {
			t.Fatalf("CreateThread() error = %v", err)
		}
		return db, thread
	}

	t.Run("lists in creation order", func(t *testing.T) {
		db, thread := setup(t)

		second := newResource(thread.ID, model.ModeStored, "v2", testTime.Add(time.Minute))
		first := newResource(thread.ID, model.ModeReference, "v1", testTime)
		for _, r := range []*model.Resource{second, first} {
			if err := db.CreateResource(ctx, r); err != nil {
				t.Fatalf("CreateResource() error = %v", err)
			}
		}

		list, err := db.ListResourcesByThread(ctx, thread.ID)
		if err != nil {
			t.Fatalf("ListResourcesByThread() error = %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("len = %d, want 2", len(list))
		}
		if list[0].VersionLabel != "v1" || list[1].VersionLabel != "v2" {
			t.Errorf("order = %q, %q, want v1, v2", list[0].VersionLabel, list[1].VersionLabel)
		}
		if list[1].Mode != model.ModeStored {
			t.Errorf("Mode = %q, want %q", list[1].Mode, model.ModeStored)
		}
	})

	t.Run("update and increment", func(t *testing.T) {
		db, thread := setup(t)

		r := newResource(thread.ID, model.ModeStored, "v1", testTime)
		r.Password = strPtr("pw")
		if err := db.CreateResource(ctx, r); err != nil {
			t.Fatalf("CreateResource() error = %v", err)
		}

		r.VersionLabel = "v1.1"
		r.Password = nil
		if err := db.UpdateResource(ctx, r); err != nil {
			t.Fatalf("UpdateResource() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := db.IncrementDownloadCount(ctx, r.ID); err != nil {
				t.Fatalf("IncrementDownloadCount() error = %v", err)
			}
		}

		got, err := db.GetResource(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetResource() error = %v", err)
		}
		if got.VersionLabel != "v1.1" {
			t.Errorf("VersionLabel = %q, want %q", got.VersionLabel, "v1.1")
		}
		if got.HasPassword() {
			t.Error("HasPassword() = true, want false after clearing")
		}
		if got.DownloadCount != 3 {
			t.Errorf("DownloadCount = %d, want 3", got.DownloadCount)
		}
	})

	t.Run("increment on missing resource fails", func(t *testing.T) {
		db, _ := setup(t)

		if err := db.IncrementDownloadCount(ctx, "missing"); err == nil {
			t.Error("IncrementDownloadCount() expected error for missing resource")
		}
	})

	t.Run("delete reports whether a row was removed", func(t *testing.T) {
		db, thread := setup(t)

		r := newResource(thread.ID, model.ModeReference, "v1", testTime)
		if err := db.CreateResource(ctx, r); err != nil {
			t.Fatalf("CreateResource() error = %v", err)
		}

		deleted, err := db.DeleteResource(ctx, r.ID)
		if err != nil {
			t.Fatalf("DeleteResource() error = %v", err)
		}
		if !deleted {
			t.Error("DeleteResource() = false, want true")
		}

		deleted, err = db.DeleteResource(ctx, r.ID)
		if err != nil {
			t.Fatalf("DeleteResource() error = %v", err)
		}
		if deleted {
			t.Error("DeleteResource() = true on second call, want false")
		}
	})

	t.Run("resource requires existing thread", func(t *testing.T) {
		db, _ := setup(t)

		r := newResource("missing-thread", model.ModeStored, "v1", testTime)
		if err := db.CreateResource(ctx, r); err == nil {
			t.Error("CreateResource() expected foreign key error")
		}
	})
}

func TestSQLDatabase_Transactions(t *testing.T) {
	ctx := context.Background()

	t.Run("rollback discards writes", func(t *testing.T) {
		db := newTestDB(t)

		tx, err := db.BeginTx(ctx)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		if err := tx.CreateThread(ctx, newThread("c-1", "owner")); err != nil {
			t.Fatalf("CreateThread() error = %v", err)
		}
		got, err := tx.GetThreadByPublicID(ctx, "c-1")
		if err != nil || got == nil {
			t.Fatalf("GetThreadByPublicID() inside tx = %v, %v", got, err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}

		got, err = db.GetThreadByPublicID(ctx, "c-1")
		if err != nil {
			t.Fatalf("GetThreadByPublicID() error = %v", err)
		}
		if got != nil {
			t.Error("thread visible after rollback")
		}
	})

	t.Run("commit persists and later rollback is a no-op", func(t *testing.T) {
		db := newTestDB(t)

		tx, err := db.BeginTx(ctx)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		if err := tx.CreateThread(ctx, newThread("c-1", "owner")); err != nil {
			t.Fatalf("CreateThread() error = %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Errorf("Rollback() after Commit() error = %v, want nil", err)
		}

		got, _ := db.GetThreadByPublicID(ctx, "c-1")
		if got == nil {
			t.Error("thread missing after commit")
		}
	})
}

func TestSQLiteDatabase_FileBacked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "depot.db")

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	if err := db.CheckMigrations(); err == nil {
		t.Error("CheckMigrations() on fresh file expected error")
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.CreateThread(ctx, newThread("c-1", "owner")); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	db.Close()

	reopened, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() reopen error = %v", err)
	}
	defer reopened.Close()

	if err := reopened.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	got, err := reopened.GetThreadByPublicID(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetThreadByPublicID() error = %v", err)
	}
	if got == nil {
		t.Error("thread missing after reopen")
	}
}

// TestPostgresDatabase runs against a live server when DEPOT_TEST_POSTGRES_DSN is set.
func TestPostgresDatabase(t *testing.T) {
	dsn := os.Getenv("DEPOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DEPOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	db, err := NewPostgresDatabase(dsn, PostgresOptions{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("NewPostgresDatabase() error = %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	publicID := "pg-" + uuid.New().String()
	thread := newThread(publicID, "owner")
	if err := db.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if err := db.CreateThread(ctx, newThread(publicID, "other")); !errors.Is(err, depot.ErrDuplicate) {
		t.Errorf("CreateThread() duplicate error = %v, want ErrDuplicate", err)
	}

	r := newResource(thread.ID, model.ModeStored, "v1", testTime)
	if err := db.CreateResource(ctx, r); err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if err := db.IncrementDownloadCount(ctx, r.ID); err != nil {
		t.Fatalf("IncrementDownloadCount() error = %v", err)
	}
	got, err := db.GetResource(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetResource() error = %v", err)
	}
	if got.DownloadCount != 1 {
		t.Errorf("DownloadCount = %d, want 1", got.DownloadCount)
	}
	if _, err := db.DeleteResource(ctx, r.ID); err != nil {
		t.Fatalf("DeleteResource() error = %v", err)
	}
}
