package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"


	"depot/internal/depot"
)

// FileSystemChannel is a filesystem-based implementation of depot.ContentChannel.
// Each container is a directory:
//
//	<root>/
//	  <containerID>/
//	    .container       (JSON marker with the warehouse header)
//	    <itemID>         (first attachment bytes)
//	    <itemID>.json    (item metadata sidecar)
type FileSystemChannel struct {
	root       string
	clock      depot.Clock
	pointerTTL time.Duration
}

// NewFileSystemChannel creates a channel rooted at the given path.
func NewFileSystemChannel(root string, clock depot.Clock, pointerTTL time.Duration) (*FileSystemChannel, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create channel root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving channel root: %w", err)
	}
	if pointerTTL <= 0 {
		pointerTTL = DefaultPointerTTL
	}
	return &FileSystemChannel{root: abs, clock: clock, pointerTTL: pointerTTL}, nil
}

// Send stores one attachment as a new item authored by the bot.
func (c *FileSystemChannel) Send(ctx context.Context, containerID string, att depot.Attachment) (string, error) {
	if err := c.FetchContainer(ctx, containerID); err != nil {
		return "", err
	}
	return c.writeItem(containerID, Post{AuthorID: BotAuthorID, Attachment: &att})
}

// Publish posts an item into a container, creating the container directory if needed.
func (c *FileSystemChannel) Publish(ctx context.Context, containerID string, post Post) (string, error) {
	if err := checkID("container", containerID); err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.containerDir(containerID), 0755); err != nil {
		return "", classifyFSError("creating container", err)
	}
	return c.writeItem(containerID, post)
}

// Fetch reads the item sidecar and mints a file pointer.
func (c *FileSystemChannel) Fetch(ctx context.Context, containerID, itemID string) (*depot.Item, error) {
	if err := c.FetchContainer(ctx, containerID); err != nil {
		return nil, err
	}
	if err := checkID("item", itemID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.sidecarPath(containerID, itemID))
	if err != nil {
		return nil, classifyFSError("reading item "+itemID, err)
	}
	var meta itemMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding item %s: %w", itemID, err)
	}

	item := meta.toItem(containerID, itemID)
	expires := c.clock.Now().Add(c.pointerTTL)
	u := url.URL{Scheme: "file", Path: c.itemPath(containerID, itemID)}
	u.RawQuery = url.Values{"expires": {fmt.Sprint(expires.Unix())}}.Encode()
	item.Pointer = depot.AccessPointer{URL: u.String(), ExpiresAt: expires}
	return &item, nil
}

// Delete removes an item and its sidecar.
func (c *FileSystemChannel) Delete(ctx context.Context, containerID, itemID string) error {
	if err := checkID("container", containerID); err != nil {
		return err
	}
	if err := checkID("item", itemID); err != nil {
		return err
	}
	if err := os.Remove(c.sidecarPath(containerID, itemID)); err != nil {
		return classifyFSError("deleting item "+itemID, err)
	}
	if err := os.Remove(c.itemPath(containerID, itemID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classifyFSError("deleting item data "+itemID, err)
	}
	return nil
}

// CreateContainer creates a new container directory with its marker.
func (c *FileSystemChannel) CreateContainer(ctx context.Context, root string, header depot.ContainerHeader) (string, error) {
	if err := checkRootName(root); err != nil {
		return "", err
	}
	id := newItemID(c.clock.Now())
	dir := c.containerDir(id)
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", classifyFSError("creating container", err)
	}

	data, err := encodeMarker(root, &header)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(dir, markerName), data); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return id, nil
}

// FetchContainer checks that the container directory exists.
func (c *FileSystemChannel) FetchContainer(ctx context.Context, containerID string) error {
	if err := checkID("container", containerID); err != nil {
		return err
	}
	info, err := os.Stat(c.containerDir(containerID))
	if err != nil {
		return classifyFSError("container "+containerID, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("container %s is not a directory: %w", containerID, depot.ErrNotFound)
	}
	return nil
}

// ValidateRoot verifies the root name and that the channel directory is writable.
func (c *FileSystemChannel) ValidateRoot(ctx context.Context, root string) error {
	if err := checkRootName(root); err != nil {
		return err
	}
	info, err := os.Stat(c.root)
	if err != nil {
		return classifyFSError("channel root not accessible", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("channel root is not a directory: %s", c.root)
	}
	probe, err := os.CreateTemp(c.root, ".probe-*")
	if err != nil {
		return classifyFSError("channel root not writable", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

func (c *FileSystemChannel) writeItem(containerID string, post Post) (string, error) {
	id := newItemID(c.clock.Now())
	meta := itemMeta{AuthorID: post.AuthorID, Content: post.Content}

	if post.Attachment != nil {
		written, err := copyAtomic(c.itemPath(containerID, id), post.Attachment.Body)
		if err != nil {
			return "", err
		}
		if post.Attachment.Size > 0 && written != post.Attachment.Size {
			os.Remove(c.itemPath(containerID, id))
			return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", post.Attachment.Size, written)
		}
		meta.Filename = post.Attachment.Filename
		meta.ContentType = post.Attachment.ContentType
		meta.Size = written
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding item metadata: %w", err)
	}
	if err := writeFileAtomic(c.sidecarPath(containerID, id), data); err != nil {
		os.Remove(c.itemPath(containerID, id))
		return "", err
	}
	return id, nil
}

func (c *FileSystemChannel) containerDir(containerID string) string {
	return filepath.Join(c.root, containerID)
}

func (c *FileSystemChannel) itemPath(containerID, itemID string) string {
	return filepath.Join(c.root, containerID, itemID)
}

func (c *FileSystemChannel) sidecarPath(containerID, itemID string) string {
	return filepath.Join(c.root, containerID, itemID+".json")
}

// copyAtomic writes r to destPath using a temp file and rename.
func copyAtomic(destPath string, r io.Reader) (int64, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return 0, classifyFSError("creating temp file", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

func writeFileAtomic(destPath string, data []byte) error {
	_, err := copyAtomic(destPath, bytes.NewReader(data))
	return err
}

// classifyFSError maps missing paths to ErrNotFound and permission failures to ErrForbidden.
func classifyFSError(op string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", op, depot.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", op, depot.ErrForbidden)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Compile-time checks
var (
	_ depot.ContentChannel = (*FileSystemChannel)(nil)
	_ Publisher            = (*FileSystemChannel)(nil)
)
