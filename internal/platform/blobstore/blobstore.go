// Package blobstore stores chat attachments and profile images under
// hierarchical keys such as "chat_attachments/{chatID}/{ts}_{name}" and
// "profile_images/{userID}". It provides an in-memory store for tests and
// development, a Postgres-backed store, and an Echo handler that serves blobs
// by key.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidKey         = errors.New("invalid blob key")
	ErrAccessDenied       = errors.New("access to blob denied")
)

const (
	attachmentPrefix = "chat_attachments/"
	blobPath         = "/api/v1/blobs/"
)

// DefaultMaxSize applies when a store is created with a zero limit.
const DefaultMaxSize = 10 * 1024 * 1024

// AllowedContentTypes lists what the mobile app can pick: photos from the
// image library and common documents.
var AllowedContentTypes = map[string]bool{
	"image/png":          true,
	"image/jpeg":         true,
	"image/gif":          true,
	"image/webp":         true,
	"image/heic":         true,
	"application/pdf":    true,
	"text/plain":         true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// Blob describes a stored object.
type Blob struct {
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Hash        string    `json:"sha256"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is implemented by every backend. Put replaces any existing blob at
// the same key.
type Store interface {
	Put(ctx context.Context, meta Blob, content io.Reader) (*Blob, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Blob, error)
	Stat(ctx context.Context, key string) (*Blob, error)
}

// AttachmentKey builds the key for a chat attachment uploaded at ts.
func AttachmentKey(chatID string, ts time.Time, filename string) string {
	return attachmentPrefix + chatID + "/" + strconv.FormatInt(ts.UnixMilli(), 10) + "_" + cleanFileName(filename)
}

// AttachmentChatID reports whether key is a chat attachment and, if so,
// the conversation it belongs to. The id is empty for malformed keys.
func AttachmentChatID(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, attachmentPrefix)
	if !ok {
		return "", false
	}
	chatID, _, found := strings.Cut(rest, "/")
	if !found {
		return "", true
	}
	return chatID, true
}

// ProfileImageKey is the single key holding a user's profile image.
func ProfileImageKey(userID string) string {
	return "profile_images/" + userID
}

func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20, r == '?', r == '#', r == '%':
			return -1
		}
		return r
	}, name)
}

// ValidateKey rejects empty, absolute and traversal keys.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// KeyFromURL returns the blob key addressed by rawURL, which must have been
// built by URL with the same baseURL. Query strings are ignored.
func KeyFromURL(baseURL, rawURL string) (string, bool) {
	prefix := strings.TrimRight(baseURL, "/") + blobPath
	escaped, ok := strings.CutPrefix(rawURL, prefix)
	if !ok {
		return "", false
	}
	escaped, _, _ = strings.Cut(escaped, "?")
	segs := strings.Split(escaped, "/")
	for i, seg := range segs {
		unescaped, err := url.PathUnescape(seg)
		if err != nil || strings.Contains(unescaped, "/") {
			return "", false
		}
		segs[i] = unescaped
	}
	key := strings.Join(segs, "/")
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

// URL returns the download URL for key relative to the public base URL.
func URL(baseURL, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(baseURL, "/") + blobPath + strings.Join(segs, "/")
}

// readLimited reads content fully, enforcing max, and fills size and hash.
func readLimited(meta *Blob, content io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, max+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > max {
		return nil, ErrFileTooLarge
	}
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	return data, nil
}

func validate(meta Blob) error {
	if err := ValidateKey(meta.Key); err != nil {
		return err
	}
	if !AllowedContentTypes[meta.ContentType] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, meta.ContentType)
	}
	return nil
}

type storedBlob struct {
	meta    Blob
	content []byte
}

// InMemoryStore is a thread-safe Store for tests and development.
type InMemoryStore struct {
	mu      sync.RWMutex
	maxSize int64
	blobs   map[string]*storedBlob
}

func NewInMemoryStore(maxSize int64) *InMemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &InMemoryStore{
		maxSize: maxSize,
		blobs:   make(map[string]*storedBlob),
	}
}

func (s *InMemoryStore) Put(_ context.Context, meta Blob, content io.Reader) (*Blob, error) {
	if err := validate(meta); err != nil {
		return nil, err
	}
	data, err := readLimited(&meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}
	meta.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.blobs[meta.Key] = &storedBlob{meta: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Blob, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := b.meta
	return io.NopCloser(bytes.NewReader(b.content)), &meta, nil
}

func (s *InMemoryStore) Stat(_ context.Context, key string) (*Blob, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := b.meta
	return &meta, nil
}
