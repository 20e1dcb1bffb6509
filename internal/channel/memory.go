package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"depot/internal/depot"
)

// MemoryChannel is an in-memory implementation of depot.ContentChannel.
// It keeps containers, items and attachment bytes in maps, making it useful
// for testing. Failures can be injected per filename, container or root.
// This implementation is safe for concurrent use.
type MemoryChannel struct {
	mu         sync.RWMutex
	clock      depot.Clock
	pointerTTL time.Duration
	botID      string
	containers map[string]*memContainer
	counter    int

	sendErrs   map[string]error // filename -> error returned by Send
	forbidden  map[string]bool  // container ids that cannot be read
	deniedRoot map[string]bool
	createErr  error
}

type memContainer struct {
	root   string
	header *depot.ContainerHeader
	items  map[string]*memItem
	order  []string
}

type memItem struct {
	item depot.Item
	data [][]byte
}

// NewMemoryChannel creates an empty in-memory channel.
func NewMemoryChannel(clock depot.Clock, pointerTTL time.Duration) *MemoryChannel {
	if pointerTTL <= 0 {
		pointerTTL = DefaultPointerTTL
	}
	return &MemoryChannel{
		clock:      clock,
		pointerTTL: pointerTTL,
		botID:      BotAuthorID,
		containers: make(map[string]*memContainer),
		sendErrs:   make(map[string]error),
		forbidden:  make(map[string]bool),
		deniedRoot: make(map[string]bool),
	}
}

// nextID returns sequential numeric ids so items can be addressed by message links.
func (m *MemoryChannel) nextID() string {
	m.counter++
	return strconv.Itoa(1000 + m.counter)
}

// Send stores one attachment as a new item authored by the bot.
func (m *MemoryChannel) Send(ctx context.Context, containerID string, att depot.Attachment) (string, error) {
	m.mu.RLock()
	injected := m.sendErrs[att.Filename]
	m.mu.RUnlock()
	if injected != nil {
		return "", injected
	}

	return m.Publish(ctx, containerID, Post{AuthorID: m.botID, Attachment: &att})
}

// Publish posts an item into a container, creating the container if needed.
func (m *MemoryChannel) Publish(ctx context.Context, containerID string, post Post) (string, error) {
	var (
		meta depot.ItemAttachment
		data []byte
	)
	if post.Attachment != nil {
		var err error
		data, err = io.ReadAll(post.Attachment.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read attachment: %w", err)
		}
		if post.Attachment.Size > 0 && int64(len(data)) != post.Attachment.Size {
			return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", post.Attachment.Size, len(data))
		}
		meta = depot.ItemAttachment{
			Filename:    post.Attachment.Filename,
			ContentType: post.Attachment.ContentType,
			Size:        int64(len(data)),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[containerID]
	if !ok {
		if post.AuthorID == m.botID {
			return "", fmt.Errorf("container %s: %w", containerID, depot.ErrNotFound)
		}
		c = newMemContainer("")
		m.containers[containerID] = c
	}
	if m.forbidden[containerID] {
		return "", fmt.Errorf("container %s: %w", containerID, depot.ErrForbidden)
	}

	id := m.nextID()
	it := &memItem{item: depot.Item{
		ID:          id,
		ContainerID: containerID,
		AuthorID:    post.AuthorID,
		Content:     post.Content,
	}}
	if post.Attachment != nil {
		it.item.Attachments = []depot.ItemAttachment{meta}
		it.data = [][]byte{data}
	}
	c.items[id] = it
	c.order = append(c.order, id)
	return id, nil
}

// Fetch returns a copy of the item with a freshly minted pointer.
func (m *MemoryChannel) Fetch(ctx context.Context, containerID, itemID string) (*depot.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", containerID, depot.ErrNotFound)
	}
	if m.forbidden[containerID] {
		return nil, fmt.Errorf("container %s: %w", containerID, depot.ErrForbidden)
	}
	it, ok := c.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, depot.ErrNotFound)
	}

	item := it.item
	item.Attachments = append([]depot.ItemAttachment(nil), it.item.Attachments...)
	expires := m.clock.Now().Add(m.pointerTTL)
	item.Pointer = depot.AccessPointer{
		URL:       pointerURL("memory", containerID+"/"+itemID, expires),
		ExpiresAt: expires,
	}
	return &item, nil
}

// Delete removes an item. Deleting a missing item returns ErrNotFound.
func (m *MemoryChannel) Delete(ctx context.Context, containerID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[containerID]
	if !ok {
		return fmt.Errorf("container %s: %w", containerID, depot.ErrNotFound)
	}
	if m.forbidden[containerID] {
		return fmt.Errorf("container %s: %w", containerID, depot.ErrForbidden)
	}
	if _, ok := c.items[itemID]; !ok {
		return fmt.Errorf("item %s: %w", itemID, depot.ErrNotFound)
	}
	delete(c.items, itemID)
	for i, id := range c.order {
		if id == itemID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// CreateContainer creates a new container under root.
func (m *MemoryChannel) CreateContainer(ctx context.Context, root string, header depot.ContainerHeader) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return "", m.createErr
	}
	if m.deniedRoot[root] {
		return "", fmt.Errorf("root %s: %w", root, depot.ErrForbidden)
	}

	id := m.nextID()
	c := newMemContainer(root)
	h := header
	c.header = &h
	m.containers[id] = c
	return id, nil
}

// FetchContainer checks that the container exists and is readable.
func (m *MemoryChannel) FetchContainer(ctx context.Context, containerID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.containers[containerID]; !ok {
		return fmt.Errorf("container %s: %w", containerID, depot.ErrNotFound)
	}
	if m.forbidden[containerID] {
		return fmt.Errorf("container %s: %w", containerID, depot.ErrForbidden)
	}
	return nil
}

// ValidateRoot succeeds for any named root that has not been denied.
func (m *MemoryChannel) ValidateRoot(ctx context.Context, root string) error {
	if err := checkRootName(root); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.deniedRoot[root] {
		return fmt.Errorf("root %s: %w", root, depot.ErrForbidden)
	}
	return nil
}

func newMemContainer(root string) *memContainer {
	return &memContainer{root: root, items: make(map[string]*memItem)}
}

// Test helpers

// AddContainer registers an empty public container.
func (m *MemoryChannel) AddContainer(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[containerID]; !ok {
		m.containers[containerID] = newMemContainer("")
	}
}

// AddItem seeds an item with attachment descriptions but no bytes and returns its id.
func (m *MemoryChannel) AddItem(containerID, authorID, content string, attachments ...depot.ItemAttachment) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[containerID]
	if !ok {
		c = newMemContainer("")
		m.containers[containerID] = c
	}
	id := m.nextID()
	c.items[id] = &memItem{item: depot.Item{
		ID:          id,
		ContainerID: containerID,
		AuthorID:    authorID,
		Content:     content,
		Attachments: attachments,
	}}
	c.order = append(c.order, id)
	return id
}

// RemoveContainer deletes a container and everything in it.
func (m *MemoryChannel) RemoveContainer(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, containerID)
}

// FailSend makes Send return err for attachments named filename.
func (m *MemoryChannel) FailSend(filename string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrs[filename] = err
}

// FailCreate makes CreateContainer return err. A nil err clears the failure.
func (m *MemoryChannel) FailCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// Forbid makes every operation on the container fail with ErrForbidden.
func (m *MemoryChannel) Forbid(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forbidden[containerID] = true
}

// DenyRoot makes ValidateRoot and CreateContainer fail for root.
func (m *MemoryChannel) DenyRoot(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deniedRoot[root] = true
}

// Items returns the items of a container in posting order.
func (m *MemoryChannel) Items(containerID string) []depot.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[containerID]
	if !ok {
		return nil
	}
	items := make([]depot.Item, 0, len(c.order))
	for _, id := range c.order {
		items = append(items, c.items[id].item)
	}
	return items
}

// Content returns the bytes of the item's first attachment.
func (m *MemoryChannel) Content(containerID, itemID string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[containerID]
	if !ok {
		return nil, false
	}
	it, ok := c.items[itemID]
	if !ok || len(it.data) == 0 {
		return nil, false
	}
	return bytes.Clone(it.data[0]), true
}

// Header returns the header a container was created with, or nil.
func (m *MemoryChannel) Header(containerID string) *depot.ContainerHeader {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[containerID]
	if !ok || c.header == nil {
		return nil
	}
	h := *c.header
	return &h
}

// ContainerCount returns the number of containers created under root.
func (m *MemoryChannel) ContainerCount(root string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, c := range m.containers {
		if c.header != nil && c.root == root {
			n++
		}
	}
	return n
}

func pointerURL(scheme, path string, expires time.Time) string {
	u := url.URL{Scheme: scheme, Path: "/" + path}
	u.RawQuery = url.Values{"expires": {fmt.Sprint(expires.Unix())}}.Encode()
	return u.String()
}

// Compile-time checks
var (
	_ depot.ContentChannel = (*MemoryChannel)(nil)
	_ Publisher            = (*MemoryChannel)(nil)
)
