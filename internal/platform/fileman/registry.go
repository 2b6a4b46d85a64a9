package fileman

import (
	"strings"

	"github.com/synthetichealth/vistaexport/internal/platform/globals"
)

// NaturalKey identifies a dictionary concept independent of its IEN.
type NaturalKey struct {
	System  string
	Code    string
	Display string
}

// KeyFor builds the natural key of a coded concept: system and code when a
// code is present, otherwise the upper-cased display text.
func KeyFor(system, code, display string) NaturalKey {
	if code = strings.TrimSpace(code); code != "" {
		return NaturalKey{System: strings.ToUpper(strings.TrimSpace(system)), Code: code}
	}
	return NaturalKey{Display: strings.ToUpper(strings.TrimSpace(display))}
}

// IsZero reports whether the key carries neither a code nor a display.
func (k NaturalKey) IsZero() bool { return k.Code == "" && k.Display == "" }

func (k NaturalKey) String() string {
	if k.Code != "" {
		if k.System == "" {
			return k.Code
		}
		return k.System + ":" + k.Code
	}
	return k.Display
}

// Writer is the part of the store a registry writes through.
type Writer interface {
	PutAll(entries []globals.Entry) error
}

// Registry maps natural keys of one dictionary file to IENs, creating the
// dictionary record on first use. It is owned by a single export session
// and is not safe for concurrent use.
type Registry struct {
	file    *FileDef
	alloc   *Allocator
	store   Writer
	mode    Mode
	entries map[NaturalKey]IEN

	// OnCreate, when set, is called after a new dictionary record is written.
	OnCreate func(key NaturalKey, ien IEN)
}

// NewRegistry returns an empty registry for the dictionary file.
func NewRegistry(file *FileDef, alloc *Allocator, store Writer, mode Mode) *Registry {
	return &Registry{
		file:    file,
		alloc:   alloc,
		store:   store,
		mode:    mode,
		entries: make(map[NaturalKey]IEN),
	}
}

// File returns the dictionary file the registry serves.
func (r *Registry) File() *FileDef { return r.file }

// GetOrCreate returns the IEN registered for key, or allocates one and
// writes the dictionary record built from fields. Repeated calls with the
// same key write nothing.
func (r *Registry) GetOrCreate(key NaturalKey, fields Values) (IEN, error) {
	if ien, ok := r.entries[key]; ok {
		return ien, nil
	}
	if key.IsZero() {
		return 0, &Error{Kind: ErrIncompleteFields, File: r.file.Name, Detail: "natural key has neither code nor display"}
	}
	rec := &Record{File: r.file, IEN: r.alloc.Peek(), Values: fields}
	entries, err := rec.Render(r.mode)
	if err != nil {
		if fe, ok := err.(*Error); ok {
			fe.Record = key.String()
		}
		return 0, Locate(err, r.file.Name, key.String())
	}
	if err := r.store.PutAll(entries); err != nil {
		return 0, Locate(err, r.file.Name, key.String())
	}
	ien := r.alloc.Next()
	r.entries[key] = ien
	if r.OnCreate != nil {
		r.OnCreate(key, ien)
	}
	return ien, nil
}

// Lookup returns the IEN of a registered key.
func (r *Registry) Lookup(key NaturalKey) (IEN, bool) {
	ien, ok := r.entries[key]
	return ien, ok
}

// Len returns the number of registered concepts.
func (r *Registry) Len() int { return len(r.entries) }
