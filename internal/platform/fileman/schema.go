package fileman

import (
	"fmt"
	"strings"

	"github.com/synthetichealth/vistaexport/internal/platform/globals"
)

// FileNumber identifies a file, e.g. "2" or "9000010.18".
type FileNumber string

// IndexKeyLength is the longest string an index subscript carries; longer
// keys are truncated, as FileMan does for its "B" cross-references.
const IndexKeyLength = 30

// Node is a named field node of a record. The zero node has subscript 0.
type Node struct {
	Sub    globals.Subscript
	Fields []Field
	// WordProcessing nodes hold free-text lines instead of fields:
	// (IEN,sub,0) is the line count and (IEN,sub,i,0) the i-th line.
	WordProcessing bool
}

// Index is a declared cross-reference. Its entries take the shape
// root…,"Name",key_1,…,key_k,IEN) = "".
type Index struct {
	Name string
	Keys []string
}

// FileDef is the static schema of one file.
type FileDef struct {
	Number     FileNumber
	Name       string
	Global     string
	Root       []globals.Subscript
	Nodes      []Node
	Indexes    []Index
	Dictionary bool

	fields map[string]Field
}

// Field looks up a declared field by name.
func (f *FileDef) Field(name string) (Field, bool) {
	fd, ok := f.fields[name]
	return fd, ok
}

// Sub returns the file root followed by subs.
func (f *FileDef) Sub(subs ...globals.Subscript) []globals.Subscript {
	out := make([]globals.Subscript, 0, len(f.Root)+len(subs))
	out = append(out, f.Root...)
	return append(out, subs...)
}

// Ref renders the open root reference, e.g. ^GMR(120.8, for messages.
func (f *FileDef) Ref() string {
	if len(f.Root) == 0 {
		return f.Global + "("
	}
	return strings.TrimSuffix(globals.Ref(f.Global, f.Root...), ")") + ","
}

func (f *FileDef) String() string {
	return fmt.Sprintf("%s (#%s)", f.Name, f.Number)
}

// ZeroNode returns the node at subscript 0.
func (f *FileDef) ZeroNode() Node {
	return f.Nodes[0]
}

// Catalog is an immutable, validated set of file definitions.
type Catalog struct {
	files []*FileDef
	byNum map[FileNumber]*FileDef
}

// NewCatalog validates defs and returns a catalog. It fails on duplicate
// file or field names, a missing zero node, index keys that are not fields,
// and pointer or reference fields whose target is not in the catalog.
// Reference fields must target dictionary files.
func NewCatalog(defs ...*FileDef) (*Catalog, error) {
	c := &Catalog{byNum: make(map[FileNumber]*FileDef, len(defs))}
	for _, d := range defs {
		if d.Number == "" || d.Name == "" || !strings.HasPrefix(d.Global, "^") {
			return nil, fmt.Errorf("fileman: file %q: number, name and ^global are required", d.Name)
		}
		if strings.Contains(d.Name, `"`) || strings.Contains(d.Name, Delimiter) {
			return nil, fmt.Errorf("fileman: file %q: name cannot be quoted", d.Name)
		}
		if _, dup := c.byNum[d.Number]; dup {
			return nil, fmt.Errorf("fileman: duplicate file number %s", d.Number)
		}
		if len(d.Nodes) == 0 || !d.Nodes[0].Sub.IsNumeric() || d.Nodes[0].Sub.Text() != "0" || d.Nodes[0].WordProcessing {
			return nil, fmt.Errorf("fileman: %s: first node must be the zero node", d)
		}
		d.fields = make(map[string]Field)
		subs := make(map[string]bool)
		for _, n := range d.Nodes {
			if subs[n.Sub.String()] {
				return nil, fmt.Errorf("fileman: %s: duplicate node %s", d, n.Sub)
			}
			subs[n.Sub.String()] = true
			if n.WordProcessing {
				if len(n.Fields) != 0 {
					return nil, fmt.Errorf("fileman: %s: word-processing node %s declares fields", d, n.Sub)
				}
				continue
			}
			for _, f := range n.Fields {
				if f.Name == "" {
					return nil, fmt.Errorf("fileman: %s: unnamed field", d)
				}
				if _, dup := d.fields[f.Name]; dup {
					return nil, fmt.Errorf("fileman: %s: duplicate field %q", d, f.Name)
				}
				d.fields[f.Name] = f
			}
		}
		for _, ix := range d.Indexes {
			if ix.Name == "" || len(ix.Keys) == 0 {
				return nil, fmt.Errorf("fileman: %s: index needs a name and keys", d)
			}
			for _, k := range ix.Keys {
				if _, ok := d.fields[k]; !ok {
					return nil, fmt.Errorf("fileman: %s: index %s keys on unknown field %q", d, ix.Name, k)
				}
			}
		}
		c.files = append(c.files, d)
		c.byNum[d.Number] = d
	}
	for _, d := range c.files {
		for _, f := range d.fields {
			if f.Type != TypePointer && f.Type != TypeReference {
				continue
			}
			target, ok := c.byNum[f.Target]
			if !ok {
				return nil, fmt.Errorf("fileman: %s: field %q points at unknown file %s", d, f.Name, f.Target)
			}
			if f.Type == TypeReference && !target.Dictionary {
				return nil, fmt.Errorf("fileman: %s: reference field %q must target a dictionary, %s is not", d, f.Name, target)
			}
		}
	}
	return c, nil
}

// MustCatalog is NewCatalog for package-level catalogs.
func MustCatalog(defs ...*FileDef) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// File returns the definition of num.
func (c *Catalog) File(num FileNumber) (*FileDef, bool) {
	d, ok := c.byNum[num]
	return d, ok
}

// Files returns every definition in declaration order.
func (c *Catalog) Files() []*FileDef {
	out := make([]*FileDef, len(c.files))
	copy(out, c.files)
	return out
}

// Record is one rendered-in-memory instance of a file, ready to be written.
type Record struct {
	File   *FileDef
	IEN    IEN
	Values Values
	Text   map[string][]string // word-processing lines keyed by node subscript text
}

// Render produces every node of the record followed by its index entries.
// Nothing is written; the caller hands the entries to the store in one
// atomic batch. An index whose key field is empty is skipped for this
// record, the other indexes are still written.
func (r *Record) Render(mode Mode) ([]globals.Entry, error) {
	f := r.File
	for name := range r.Values {
		if _, ok := f.fields[name]; !ok {
			return nil, &Error{Kind: ErrFieldType, File: f.Name, Record: r.IEN.String(), Field: name, Detail: "field is not declared"}
		}
	}
	ien := globals.Int(int64(r.IEN))
	var out []globals.Entry
	for _, n := range f.Nodes {
		if n.WordProcessing {
			lines := r.Text[n.Sub.Text()]
			if len(lines) == 0 {
				continue
			}
			out = append(out, globals.Entry{Global: f.Global, Subs: f.Sub(ien, n.Sub, globals.Int(0)), Value: fmt.Sprint(len(lines))})
			for i, line := range lines {
				q, err := Quote(n.Sub.Text(), line)
				if err != nil {
					return nil, Locate(err, f.Name, r.IEN.String())
				}
				out = append(out, globals.Entry{Global: f.Global, Subs: f.Sub(ien, n.Sub, globals.Int(int64(i+1)), globals.Int(0)), Value: q})
			}
			continue
		}
		val, err := RenderNode(n.Fields, r.Values, mode)
		if err != nil {
			return nil, Locate(err, f.Name, r.IEN.String())
		}
		if n.Sub.Text() != "0" && strings.Trim(val, Delimiter) == "" {
			continue
		}
		out = append(out, globals.Entry{Global: f.Global, Subs: f.Sub(ien, n.Sub), Value: val})
	}
	for _, ix := range f.Indexes {
		subs, ok, err := IndexSubs(f, ix, r.Values, mode)
		if err != nil {
			return nil, Locate(err, f.Name, r.IEN.String())
		}
		if !ok {
			continue
		}
		out = append(out, globals.Entry{Global: f.Global, Subs: append(subs, ien), Value: `""`})
	}
	return out, nil
}

// IndexSubs renders the subscripts of an index entry up to, but not
// including, the IEN. ok is false when a key field is empty.
func IndexSubs(f *FileDef, ix Index, vals Values, mode Mode) ([]globals.Subscript, bool, error) {
	subs := f.Sub(globals.Str(ix.Name))
	for _, k := range ix.Keys {
		fd := f.fields[k]
		v := vals[k]
		if v.IsZero() {
			return nil, false, nil
		}
		sub, err := KeySubscript(fd, v, mode)
		if err != nil {
			return nil, false, err
		}
		subs = append(subs, sub)
	}
	return subs, true, nil
}

// KeySubscript converts a field value into an index subscript: text keys
// become truncated string subscripts, everything else a canonical number.
func KeySubscript(fd Field, v Value, mode Mode) (globals.Subscript, error) {
	if fd.Type == TypeString || (fd.Type == TypeReference && mode == Legacy) {
		if v.kind != kindText {
			return globals.Subscript{}, mismatch(fd, v)
		}
		if _, err := Quote(fd.Name, v.text); err != nil {
			return globals.Subscript{}, err
		}
		return globals.Str(TruncateKey(v.text)), nil
	}
	s, err := Render(fd, v, mode)
	if err != nil {
		return globals.Subscript{}, err
	}
	sub, err := globals.Number(s)
	if err != nil {
		return globals.Subscript{}, newError(ErrFieldType, fd.Name, "index key %q is not numeric", s)
	}
	return sub, nil
}

// TruncateKey shortens s to IndexKeyLength runes.
func TruncateKey(s string) string {
	r := []rune(s)
	if len(r) <= IndexKeyLength {
		return s
	}
	return string(r[:IndexKeyLength])
}
