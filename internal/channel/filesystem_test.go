package channel

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"depot/internal/depot"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

var testNow = fixedClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))

func newFSChannel(t *testing.T) *FileSystemChannel {
	t.Helper()
	c, err := NewFileSystemChannel(t.TempDir(), testNow, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewFileSystemChannel() error = %v", err)
	}
	return c
}

func TestNewFileSystemChannel(t *testing.T) {
	t.Run("creates root directory", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "nested", "channel")

		if _, err := NewFileSystemChannel(root, testNow, 0); err != nil {
			t.Fatalf("NewFileSystemChannel() error = %v", err)
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			t.Errorf("root not created: %v", err)
		}
	})

	t.Run("defaults pointer ttl", func(t *testing.T) {
		c, err := NewFileSystemChannel(t.TempDir(), testNow, 0)
		if err != nil {
			t.Fatalf("NewFileSystemChannel() error = %v", err)
		}
		if c.pointerTTL != DefaultPointerTTL {
			t.Errorf("pointerTTL = %v, want %v", c.pointerTTL, DefaultPointerTTL)
		}
	})
}

func TestFileSystemChannel_Containers(t *testing.T) {
	ctx := context.Background()

	t.Run("create writes marker", func(t *testing.T) {
		c := newFSChannel(t)

		id, err := c.CreateContainer(ctx, "warehouse", depot.ContainerHeader{Name: "w", OwnerID: "alice"})
		if err != nil {
			t.Fatalf("CreateContainer() error = %v", err)
		}
		if err := c.FetchContainer(ctx, id); err != nil {
			t.Errorf("FetchContainer() error = %v", err)
		}
		data, err := os.ReadFile(filepath.Join(c.root, id, markerName))
		if err != nil {
			t.Fatalf("reading marker: %v", err)
		}
		if !strings.Contains(string(data), `"alice"`) {
			t.Errorf("marker = %s, want owner recorded", data)
		}
	})

	t.Run("missing container is not found", func(t *testing.T) {
		c := newFSChannel(t)

		if err := c.FetchContainer(ctx, "missing"); !errors.Is(err, depot.ErrNotFound) {
			t.Errorf("FetchContainer() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("rejects ids that escape the root", func(t *testing.T) {
		c := newFSChannel(t)

		for _, id := range []string{"..", "../etc", "a/b", ".container"} {
			if err := c.FetchContainer(ctx, id); !errors.Is(err, depot.ErrNotFound) {
				t.Errorf("FetchContainer(%q) error = %v, want ErrNotFound", id, err)
			}
		}
	})

	t.Run("validate root", func(t *testing.T) {
		c := newFSChannel(t)

		if err := c.ValidateRoot(ctx, "warehouse"); err != nil {
			t.Errorf("ValidateRoot() error = %v", err)
		}
		if err := c.ValidateRoot(ctx, "a/b"); err == nil {
			t.Error("ValidateRoot() expected error for nested root name")
		}
	})
}

func TestFileSystemChannel_Items(t *testing.T) {
	ctx := context.Background()

	t.Run("send and fetch", func(t *testing.T) {
		c := newFSChannel(t)
		id, err := c.CreateContainer(ctx, "warehouse", depot.ContainerHeader{})
		if err != nil {
			t.Fatalf("CreateContainer() error = %v", err)
		}

		itemID, err := c.Send(ctx, id, depot.Attachment{
			Filename: "release notes.txt", ContentType: "text/plain", Size: 11, Body: strings.NewReader("hello world"),
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}

		item, err := c.Fetch(ctx, id, itemID)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if item.AuthorID != BotAuthorID {
			t.Errorf("AuthorID = %q, want %q", item.AuthorID, BotAuthorID)
		}
		if len(item.Attachments) != 1 {
			t.Fatalf("len(Attachments) = %d, want 1", len(item.Attachments))
		}
		if got := item.Attachments[0]; got.Filename != "release notes.txt" || got.Size != 11 {
			t.Errorf("Attachment = %+v", got)
		}

		u, err := url.Parse(item.Pointer.URL)
		if err != nil {
			t.Fatalf("parsing pointer: %v", err)
		}
		data, err := os.ReadFile(u.Path)
		if err != nil {
			t.Fatalf("reading pointer target: %v", err)
		}
		if string(data) != "hello world" {
			t.Errorf("content = %q, want %q", data, "hello world")
		}
		wantExpiry := time.Time(testNow).Add(5 * time.Minute)
		if !item.Pointer.ExpiresAt.Equal(wantExpiry) {
			t.Errorf("ExpiresAt = %v, want %v", item.Pointer.ExpiresAt, wantExpiry)
		}
	})

	t.Run("send to missing container fails", func(t *testing.T) {
		c := newFSChannel(t)

		_, err := c.Send(ctx, "missing", depot.Attachment{Filename: "a", Body: strings.NewReader("x")})
		if !errors.Is(err, depot.ErrNotFound) {
			t.Errorf("Send() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("size mismatch leaves nothing behind", func(t *testing.T) {
		c := newFSChannel(t)
		id, _ := c.CreateContainer(ctx, "warehouse", depot.ContainerHeader{})

		_, err := c.Send(ctx, id, depot.Attachment{Filename: "a", Size: 100, Body: strings.NewReader("short")})
		if err == nil {
			t.Fatal("Send() expected size mismatch error")
		}
		entries, _ := os.ReadDir(filepath.Join(c.root, id))
		if len(entries) != 1 {
			t.Errorf("container has %d entries, want only the marker", len(entries))
		}
	})

	t.Run("publish creates public container", func(t *testing.T) {
		c := newFSChannel(t)

		itemID, err := c.Publish(ctx, "public-1", Post{AuthorID: "alice", Content: "see attached"})
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		item, err := c.Fetch(ctx, "public-1", itemID)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if item.AuthorID != "alice" || item.Content != "see attached" {
			t.Errorf("item = %+v", item)
		}
		if len(item.Attachments) != 0 {
			t.Errorf("Attachments = %+v, want none", item.Attachments)
		}
	})

	t.Run("delete removes item", func(t *testing.T) {
		c := newFSChannel(t)
		itemID, err := c.Publish(ctx, "public-1", Post{
			AuthorID:   "alice",
			Attachment: &depot.Attachment{Filename: "a.bin", Body: strings.NewReader("abc")},
		})
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}

		if err := c.Delete(ctx, "public-1", itemID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := c.Fetch(ctx, "public-1", itemID); !errors.Is(err, depot.ErrNotFound) {
			t.Errorf("Fetch() error = %v, want ErrNotFound", err)
		}
		if err := c.Delete(ctx, "public-1", itemID); !errors.Is(err, depot.ErrNotFound) {
			t.Errorf("second Delete() error = %v, want ErrNotFound", err)
		}
	})
}
