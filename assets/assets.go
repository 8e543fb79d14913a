// Package assets stores generation templates and user uploads in an object
// store.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/credits/id"
)

const (
	// TemplatesPrefix holds the public generation templates.
	TemplatesPrefix = "templates/"

	// UsersPrefix holds per-account uploads as users/<accountID>/.
	UsersPrefix = "users/"

	// DefaultURLTTL is the lifetime of presigned download URLs.
	DefaultURLTTL = 15 * time.Minute
)

// ErrNotFound is returned for a key that does not exist.
var ErrNotFound = errors.New("assets: object not found")

// Object describes one stored object.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url,omitempty"`
}

// ObjectStore is a flat key/blob store.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// UserPrefix returns the folder holding accountID's uploads.
func UserPrefix(accountID id.AccountID) string {
	return UsersPrefix + accountID.String() + "/"
}

// Catalog exposes templates and user uploads with signed URLs.
type Catalog struct {
	store ObjectStore
	ttl   time.Duration
}

// NewCatalog creates a catalog over store. ttl <= 0 uses DefaultURLTTL.
func NewCatalog(store ObjectStore, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Catalog{store: store, ttl: ttl}
}

// Templates lists the generation templates with download URLs.
func (c *Catalog) Templates(ctx context.Context) ([]Object, error) {
	return c.listSigned(ctx, TemplatesPrefix)
}

// Uploads lists accountID's uploads with download URLs.
func (c *Catalog) Uploads(ctx context.Context, accountID id.AccountID) ([]Object, error) {
	return c.listSigned(ctx, UserPrefix(accountID))
}

// SaveUpload stores body under accountID's folder and returns its key.
func (c *Catalog) SaveUpload(ctx context.Context, accountID id.AccountID, name string, body io.Reader, contentType string) (string, error) {
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("assets: invalid file name %q", name)
	}
	key := UserPrefix(accountID) + name
	if err := c.store.Upload(ctx, key, body, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// DeleteUser removes every upload for accountID.
func (c *Catalog) DeleteUser(ctx context.Context, accountID id.AccountID) error {
	return c.store.DeletePrefix(ctx, UserPrefix(accountID))
}

func (c *Catalog) listSigned(ctx context.Context, prefix string) ([]Object, error) {
	objs, err := c.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for i := range objs {
		url, err := c.store.DownloadURL(ctx, objs[i].Key, c.ttl)
		if err != nil {
			return nil, err
		}
		objs[i].URL = url
	}
	return objs, nil
}

// ──────────────────────────────────────────────────
// In-memory store
// ──────────────────────────────────────────────────

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Memory is an in-process ObjectStore.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Object, 0)
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Object{Key: k, Size: int64(len(o.data)), LastModified: o.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) DownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.objects[key]; !ok {
		return "", ErrNotFound
	}
	return "memory://" + key, nil
}

func (m *Memory) Upload(_ context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now().UTC()}
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}

var _ ObjectStore = (*Memory)(nil)
