package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"depot/internal/depot"
)

const (
	// DefaultPointerTTL is the lifetime of a minted access pointer.
	DefaultPointerTTL = 15 * time.Minute

	// BotAuthorID is the author recorded on items the service sends itself.
	BotAuthorID = "depot"

	markerName = ".container"
)

var idSeq atomic.Uint32

// newItemID mints a numeric id shaped like the host platform's snowflakes:
// milliseconds since the Unix epoch in the high bits, a rolling sequence in
// the low 22 bits. Message links only accept digits.
func newItemID(now time.Time) string {
	seq := uint64(idSeq.Add(1)) & 0x3FFFFF
	return strconv.FormatUint(uint64(now.UnixMilli())<<22|seq, 10)
}

// Post is an item published on behalf of an author.
type Post struct {
	AuthorID   string
	Content    string
	Attachment *depot.Attachment
}

// Publisher posts items into public containers, creating the container on
// first use. Front ends and the CLI use it to seed items that ingestion
// later references or adopts.
type Publisher interface {
	Publish(ctx context.Context, containerID string, post Post) (string, error)
}

// containerMarker is stored alongside every container's items.
type containerMarker struct {
	Root   string                 `json:"root,omitempty"`
	Header *depot.ContainerHeader `json:"header,omitempty"`
}

// itemMeta describes an item. Object stores carry it as user metadata;
// the filesystem backend writes it as a JSON sidecar.
type itemMeta struct {
	AuthorID    string `json:"author_id"`
	Content     string `json:"content,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

func (m itemMeta) toItem(containerID, itemID string) depot.Item {
	item := depot.Item{
		ID:          itemID,
		ContainerID: containerID,
		AuthorID:    m.AuthorID,
		Content:     m.Content,
	}
	if m.Filename != "" {
		item.Attachments = []depot.ItemAttachment{{
			Filename:    m.Filename,
			ContentType: m.ContentType,
			Size:        m.Size,
		}}
	}
	return item
}

// layout maps containers and items onto object keys:
//
//	<prefix>/<containerID>/.container   (JSON marker)
//	<prefix>/<containerID>/<itemID>     (first attachment bytes)
type layout struct {
	prefix string
}

func (l layout) container(containerID string) string {
	return path.Join(l.prefix, containerID) + "/"
}

func (l layout) marker(containerID string) string {
	return l.container(containerID) + markerName
}

func (l layout) item(containerID, itemID string) string {
	return l.container(containerID) + itemID
}

// Object store user metadata must be ASCII; values are query-escaped.
const (
	metaAuthor   = "author"
	metaContent  = "content"
	metaFilename = "filename"
	metaSize     = "size"
)

// maxMetaContent bounds the escaped message text kept in user metadata.
// Object stores cap the whole metadata block at about 2 KB.
const maxMetaContent = 1024

func (m itemMeta) userMetadata() map[string]string {
	md := map[string]string{
		metaAuthor: url.QueryEscape(m.AuthorID),
		metaSize:   strconv.FormatInt(m.Size, 10),
	}
	if m.Content != "" {
		md[metaContent] = clipEscaped(m.Content, maxMetaContent)
	}
	if m.Filename != "" {
		md[metaFilename] = url.QueryEscape(m.Filename)
	}
	return md
}

// clipEscaped query-escapes s, cutting it at a rune boundary and marking the
// cut with "..." when the escaped form would exceed limit bytes.
func clipEscaped(s string, limit int) string {
	esc := url.QueryEscape(s)
	if len(esc) <= limit {
		return esc
	}
	var b strings.Builder
	for _, r := range s {
		e := url.QueryEscape(string(r))
		if b.Len()+len(e)+len("...") > limit {
			break
		}
		b.WriteString(e)
	}
	return b.String() + "..."
}

// metaFromUser decodes user metadata. Keys are matched case-insensitively
// since servers canonicalize header names.
func metaFromUser(md map[string]string, contentType string) itemMeta {
	get := func(key string) string {
		for k, v := range md {
			if strings.EqualFold(k, key) {
				if s, err := url.QueryUnescape(v); err == nil {
					return s
				}
				return v
			}
		}
		return ""
	}
	size, _ := strconv.ParseInt(get(metaSize), 10, 64)
	return itemMeta{
		AuthorID:    get(metaAuthor),
		Content:     get(metaContent),
		Filename:    get(metaFilename),
		ContentType: contentType,
		Size:        size,
	}
}

func encodeMarker(root string, header *depot.ContainerHeader) ([]byte, error) {
	data, err := json.Marshal(containerMarker{Root: root, Header: header})
	if err != nil {
		return nil, fmt.Errorf("encoding container marker: %w", err)
	}
	return data, nil
}

// checkRootName rejects root names that cannot be used as a key segment.
func checkRootName(root string) error {
	if root == "" {
		return fmt.Errorf("warehouse root is empty")
	}
	if strings.ContainsAny(root, `/\`) || root == "." || root == ".." {
		return fmt.Errorf("invalid warehouse root %q", root)
	}
	return nil
}

// checkID rejects container and item ids that would escape their directory.
func checkID(kind, id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid %s id %q: %w", kind, id, depot.ErrNotFound)
	}
	return nil
}
