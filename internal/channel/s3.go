package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"depot/internal/depot"
)

// S3Options configures an S3Channel.
type S3Options struct {
	Bucket     string
	Prefix     string
	Region     string
	Endpoint   string // for S3-compatible services; empty uses AWS
	AccessKey  string // empty uses the default credential chain
	SecretKey  string
	PathStyle  bool
	PointerTTL time.Duration
}

// S3Channel stores containers as key prefixes in one S3 bucket and hands out
// presigned GET URLs as access pointers.
type S3Channel struct {
	client     *s3.Client
	uploader   *manager.Uploader
	presigner  *s3.PresignClient
	bucket     string
	keys       layout
	pointerTTL time.Duration
}

// NewS3Channel loads AWS configuration and builds the client.
func NewS3Channel(ctx context.Context, opts S3Options) (*S3Channel, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 channel requires s3_bucket to be set")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return NewS3ChannelWithClient(client, opts), nil
}

// NewS3ChannelWithClient wraps an existing client.
func NewS3ChannelWithClient(client *s3.Client, opts S3Options) *S3Channel {
	ttl := opts.PointerTTL
	if ttl <= 0 {
		ttl = DefaultPointerTTL
	}
	return &S3Channel{
		client:     client,
		uploader:   manager.NewUploader(client),
		presigner:  s3.NewPresignClient(client),
		bucket:     opts.Bucket,
		keys:       layout{prefix: opts.Prefix},
		pointerTTL: ttl,
	}
}

// Send uploads one attachment as a new item authored by the bot.
func (c *S3Channel) Send(ctx context.Context, containerID string, att depot.Attachment) (string, error) {
	if err := c.FetchContainer(ctx, containerID); err != nil {
		return "", err
	}
	return c.putItem(ctx, containerID, Post{AuthorID: BotAuthorID, Attachment: &att})
}

// Publish posts an item, writing the container marker on first use.
func (c *S3Channel) Publish(ctx context.Context, containerID string, post Post) (string, error) {
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

// Fetch heads the item object and presigns a GET for it.
func (c *S3Channel) Fetch(ctx context.Context, containerID, itemID string) (*depot.Item, error) {
	if err := checkID("item", itemID); err != nil {
		return nil, err
	}
	if err := c.FetchContainer(ctx, containerID); err != nil {
		return nil, err
	}

	key := c.keys.item(containerID, itemID)
	head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error("fetching item "+itemID, err)
	}

	item := metaFromUser(head.Metadata, aws.ToString(head.ContentType)).toItem(containerID, itemID)

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.pointerTTL))
	if err != nil {
		return nil, fmt.Errorf("presigning item %s: %w", itemID, err)
	}
	item.Pointer = depot.AccessPointer{URL: req.URL, ExpiresAt: time.Now().UTC().Add(c.pointerTTL)}
	return &item, nil
}

// Delete removes the item object. S3 does not report missing keys on delete.
func (c *S3Channel) Delete(ctx context.Context, containerID, itemID string) error {
	if err := checkID("item", itemID); err != nil {
		return err
	}
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.keys.item(containerID, itemID)),
	})
	if err != nil {
		return classifyS3Error("deleting item "+itemID, err)
	}
	return nil
}

// CreateContainer writes a marker object under a fresh container id.
func (c *S3Channel) CreateContainer(ctx context.Context, root string, header depot.ContainerHeader) (string, error) {
	if err := checkRootName(root); err != nil {
		return "", err
	}
	id := newItemID(time.Now())
	if err := c.putMarker(ctx, id, root, &header); err != nil {
		return "", err
	}
	return id, nil
}

// FetchContainer heads the container marker.
func (c *S3Channel) FetchContainer(ctx context.Context, containerID string) error {
	if err := checkID("container", containerID); err != nil {
		return err
	}
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.keys.marker(containerID)),
	})
	if err != nil {
		return classifyS3Error("container "+containerID, err)
	}
	return nil
}

// ValidateRoot verifies the root name and that the bucket is reachable.
func (c *S3Channel) ValidateRoot(ctx context.Context, root string) error {
	if err := checkRootName(root); err != nil {
		return err
	}
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return classifyS3Error("bucket "+c.bucket, err)
	}
	return nil
}

func (c *S3Channel) putMarker(ctx context.Context, containerID, root string, header *depot.ContainerHeader) error {
	data, err := encodeMarker(root, header)
	if err != nil {
		return err
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.keys.marker(containerID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return classifyS3Error("writing container marker", err)
	}
	return nil
}

func (c *S3Channel) putItem(ctx context.Context, containerID string, post Post) (string, error) {
	id := newItemID(time.Now())
	meta := itemMeta{AuthorID: post.AuthorID, Content: post.Content}

	var (
		body        io.Reader = bytes.NewReader(nil)
		contentType           = "application/octet-stream"
	)
	if att := post.Attachment; att != nil {
		body = att.Body
		meta.Filename = att.Filename
		meta.Size = att.Size
		if att.ContentType != "" {
			contentType = att.ContentType
		}
	}

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.keys.item(containerID, id)),
		Body:        body,
		ContentType: aws.String(contentType),
		Metadata:    meta.userMetadata(),
	})
	if err != nil {
		return "", classifyS3Error("uploading item", err)
	}
	return id, nil
}

// classifyS3Error maps S3 error codes onto ErrNotFound and ErrForbidden.
func classifyS3Error(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case code == "NotFound" || code == "NoSuchKey" || code == "NoSuchBucket":
			return fmt.Errorf("%s: %w", op, depot.ErrNotFound)
		case code == "Forbidden" || code == "AccessDenied" || strings.HasPrefix(code, "InvalidAccessKey"):
			return fmt.Errorf("%s: %w", op, depot.ErrForbidden)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Compile-time checks
var (
	_ depot.ContentChannel = (*S3Channel)(nil)
	_ Publisher            = (*S3Channel)(nil)
)
