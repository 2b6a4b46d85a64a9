// Package blobstore archives exported global stores. It defines the Store
// interface, an in-memory implementation for tests and development, an
// S3-compatible implementation, the run archiver that lays out one run per
// key prefix, and Echo handlers for browsing archived runs.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectExists   = errors.New("object already exists")
	ErrObjectTooLarge = errors.New("object exceeds maximum allowed size")
	ErrInvalidKey     = errors.New("invalid object key")
)

// MaxObjectSize is the largest object a store accepts (512 MB).
const MaxObjectSize = 512 * 1024 * 1024

// MetaSHA256 is the metadata key carrying the hex SHA-256 of the content.
const MetaSHA256 = "sha256"

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes a stored object.
type Object struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	Hash        string            `json:"hash,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store is a create-only key/value object store.
type Store interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string, meta map[string]string) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Head(ctx context.Context, key string) (*Object, error)
	List(ctx context.Context, prefix string) ([]*Object, error)
	Delete(ctx context.Context, key string) error
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// readLimited buffers content, enforcing MaxObjectSize, and returns it with
// its hex SHA-256.
func readLimited(content io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxObjectSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxObjectSize {
		return nil, "", ErrObjectTooLarge
	}
	h := sha256.Sum256(data)
	return data, fmt.Sprintf("%x", h), nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	object  Object
	content []byte
}

// MemoryStore is a thread-safe, in-memory Store for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

// NewMemoryStore returns a ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject)}
}

// Put stores content under key. A key is written once.
func (s *MemoryStore) Put(_ context.Context, key string, content io.Reader, contentType string, meta map[string]string) (*Object, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	md := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		md[strings.ToLower(k)] = v
	}
	md[MetaSHA256] = hash

	obj := Object{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		Hash:        hash,
		Metadata:    md,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	s.objects[key] = &storedObject{object: obj, content: data}
	return copyObject(obj), nil
}

// Get returns a reader over the object content and its description.
func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	o, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(o.content)), copyObject(o.object), nil
}

// Head describes an object without its content.
func (s *MemoryStore) Head(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	o, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return copyObject(o.object), nil
}

// List returns the objects whose key starts with prefix, sorted by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Object
	for k, o := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyObject(o.object))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes an object.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	delete(s.objects, key)
	return nil
}

func copyObject(o Object) *Object {
	out := o
	if o.Metadata != nil {
		out.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ---------------------------------------------------------------------------
// Run archive
// ---------------------------------------------------------------------------

// Object names inside a run prefix.
const (
	GlobalsName  = "globals.txt"
	ManifestName = "manifest.json"
)

// FileSummary is the per-file line of a manifest.
type FileSummary struct {
	Number  string `json:"number"`
	Name    string `json:"name"`
	Records int64  `json:"records"`
	MaxIEN  int64  `json:"max_ien"`
}

// Manifest describes one archived run.
type Manifest struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	ExportDate string        `json:"export_date"`
	Entries    int           `json:"entries"`
	Files      []FileSummary `json:"files"`
	Hash       string        `json:"globals_sha256,omitempty"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// Archiver writes runs as <prefix><run id>/globals.txt plus a manifest.
type Archiver struct {
	store  Store
	prefix string
}

// NewArchiver returns an archiver rooted at prefix. A non-empty prefix is
// given a trailing slash.
func NewArchiver(store Store, prefix string) *Archiver {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Archiver{store: store, prefix: prefix}
}

// Key returns the object key of name within run.
func (a *Archiver) Key(runID, name string) string {
	return a.prefix + runID + "/" + name
}

// Archive stores the serialized globals and then the manifest. The globals
// hash is recorded in the manifest. A run ID is archived once.
func (a *Archiver) Archive(ctx context.Context, m Manifest, globals io.Reader) (*Manifest, error) {
	if m.RunID == "" || strings.Contains(m.RunID, "/") {
		return nil, fmt.Errorf("%w: run id %q", ErrInvalidKey, m.RunID)
	}
	meta := map[string]string{"run-id": m.RunID, "mode": m.Mode, "export-date": m.ExportDate}
	obj, err := a.store.Put(ctx, a.Key(m.RunID, GlobalsName), globals, "text/plain; charset=utf-8", meta)
	if err != nil {
		return nil, fmt.Errorf("archive globals: %w", err)
	}
	m.Hash = obj.Hash
	if m.ArchivedAt.IsZero() {
		m.ArchivedAt = time.Now().UTC()
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := a.store.Put(ctx, a.Key(m.RunID, ManifestName), bytes.NewReader(body), "application/json", meta); err != nil {
		return nil, fmt.Errorf("archive manifest: %w", err)
	}
	return &m, nil
}

// Manifest reads the manifest of one run.
func (a *Archiver) Manifest(ctx context.Context, runID string) (*Manifest, error) {
	rc, _, err := a.store.Get(ctx, a.Key(runID, ManifestName))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", runID, err)
	}
	return &m, nil
}

// Manifests lists every archived run, oldest first.
func (a *Archiver) Manifests(ctx context.Context) ([]*Manifest, error) {
	objs, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	var out []*Manifest
	for _, o := range objs {
		rest := strings.TrimPrefix(o.Key, a.prefix)
		runID, name, ok := strings.Cut(rest, "/")
		if !ok || name != ManifestName {
			continue
		}
		m, err := a.Manifest(ctx, runID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ArchivedAt.Before(out[j].ArchivedAt) })
	return out, nil
}

// Open returns the archived globals of a run.
func (a *Archiver) Open(ctx context.Context, runID string) (io.ReadCloser, *Object, error) {
	return a.store.Get(ctx, a.Key(runID, GlobalsName))
}
