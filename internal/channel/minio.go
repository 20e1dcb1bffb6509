package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"depot/internal/depot"
)

// MinioOptions configures a MinioChannel.
type MinioOptions struct {
	Endpoint   string
	Bucket     string
	Prefix     string
	AccessKey  string
	SecretKey  string
	Secure     bool
	PointerTTL time.Duration
}

// MinioChannel stores containers as key prefixes in a MinIO bucket and hands
// out presigned GET URLs as access pointers.
type MinioChannel struct {
	client     *minio.Client
	bucket     string
	keys       layout
	pointerTTL time.Duration
}

// NewMinioChannel connects to a MinIO server with static credentials.
func NewMinioChannel(opts MinioOptions) (*MinioChannel, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("minio channel requires minio_endpoint and minio_bucket to be set")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return NewMinioChannelWithClient(client, opts), nil
}

// NewMinioChannelWithClient wraps an existing client.
func NewMinioChannelWithClient(client *minio.Client, opts MinioOptions) *MinioChannel {
	ttl := opts.PointerTTL
	if ttl <= 0 {
		ttl = DefaultPointerTTL
	}
	return &MinioChannel{
		client:     client,
		bucket:     opts.Bucket,
		keys:       layout{prefix: opts.Prefix},
		pointerTTL: ttl,
	}
}

// Send uploads one attachment as a new item authored by the bot.
func (c *MinioChannel) Send(ctx context.Context, containerID string, att depot.Attachment) (string, error) {
	if err := c.FetchContainer(ctx, containerID); err != nil {
		return "", err
	}
	return c.putItem(ctx, containerID, Post{AuthorID: BotAuthorID, Attachment: &att})
}

// Publish posts an item, writing the container marker on first use.
func (c *MinioChannel) Publish(ctx context.Context, containerID string, post Post) (string, error) {
	if err := checkID("container", containerID); err != nil {
		return "", err
	}
	err := c.FetchContainer(ctx, containerID)
	if errors.Is(err, depot.ErrNotFound) {
		err = c.putMarker(ctx, containerID, "", nil)
	}
	if err != nil {
		return "", err
	}
	return c.putItem(ctx, containerID, post)
}

// Fetch stats the item object and presigns a GET for it.
func (c *MinioChannel) Fetch(ctx context.Context, containerID, itemID string) (*depot.Item, error) {
	if err := checkID("item", itemID); err != nil {
		return nil, err
	}
	if err := c.FetchContainer(ctx, containerID); err != nil {
		return nil, err
	}

	key := c.keys.item(containerID, itemID)
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classifyMinioError("fetching item "+itemID, err)
	}

	item := metaFromUser(info.UserMetadata, info.ContentType).toItem(containerID, itemID)

	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, c.pointerTTL, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("presigning item %s: %w", itemID, err)
	}
	item.Pointer = depot.AccessPointer{URL: u.String(), ExpiresAt: time.Now().UTC().Add(c.pointerTTL)}
	return &item, nil
}

// Delete removes the item object.
func (c *MinioChannel) Delete(ctx context.Context, containerID, itemID string) error {
	if err := checkID("item", itemID); err != nil {
		return err
	}
	err := c.client.RemoveObject(ctx, c.bucket, c.keys.item(containerID, itemID), minio.RemoveObjectOptions{})
	if err != nil {
		return classifyMinioError("deleting item "+itemID, err)
	}
	return nil
}

// CreateContainer writes a marker object under a fresh container id.
func (c *MinioChannel) CreateContainer(ctx context.Context, root string, header depot.ContainerHeader) (string, error) {
	if err := checkRootName(root); err != nil {
		return "", err
	}
	id := newItemID(time.Now())
	if err := c.putMarker(ctx, id, root, &header); err != nil {
		return "", err
	}
	return id, nil
}

// FetchContainer stats the container marker.
func (c *MinioChannel) FetchContainer(ctx context.Context, containerID string) error {
	if err := checkID("container", containerID); err != nil {
		return err
	}
	_, err := c.client.StatObject(ctx, c.bucket, c.keys.marker(containerID), minio.StatObjectOptions{})
	if err != nil {
		return classifyMinioError("container "+containerID, err)
	}
	return nil
}

// ValidateRoot verifies the root name and that the bucket exists.
func (c *MinioChannel) ValidateRoot(ctx context.Context, root string) error {
	if err := checkRootName(root); err != nil {
		return err
	}
	ok, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return classifyMinioError("bucket "+c.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s: %w", c.bucket, depot.ErrNotFound)
	}
	return nil
}

func (c *MinioChannel) putMarker(ctx context.Context, containerID, root string, header *depot.ContainerHeader) error {
	data, err := encodeMarker(root, header)
	if err != nil {
		return err
	}
	_, err = c.client.PutObject(ctx, c.bucket, c.keys.marker(containerID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return classifyMinioError("writing container marker", err)
	}
	return nil
}

func (c *MinioChannel) putItem(ctx context.Context, containerID string, post Post) (string, error) {
	id := newItemID(time.Now())
	meta := itemMeta{AuthorID: post.AuthorID, Content: post.Content}

	var (
		body        io.Reader = bytes.NewReader(nil)
		size        int64
		contentType = "application/octet-stream"
	)
	if att := post.Attachment; att != nil {
		body = att.Body
		size = att.Size
		if size <= 0 {
			size = -1 // unknown; the client streams multipart
		}
		meta.Filename = att.Filename
		meta.Size = att.Size
		if att.ContentType != "" {
			contentType = att.ContentType
		}
	}

	_, err := c.client.PutObject(ctx, c.bucket, c.keys.item(containerID, id), body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta.userMetadata(),
	})
	if err != nil {
		return "", classifyMinioError("uploading item", err)
	}
	return id, nil
}

// classifyMinioError maps MinIO error responses onto ErrNotFound and ErrForbidden.
func classifyMinioError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, depot.ErrNotFound)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, depot.ErrForbidden)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Compile-time checks
var (
	_ depot.ContentChannel = (*MinioChannel)(nil)
	_ Publisher            = (*MinioChannel)(nil)
)
