package vista

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/synthetichealth/vistaexport/internal/platform/fileman"
	"github.com/synthetichealth/vistaexport/internal/platform/globals"
)

// ProblemKind classifies a verification finding.
type ProblemKind string

const (
	ProblemDangling         ProblemKind = "dangling_pointer"
	ProblemMissingIndex     ProblemKind = "missing_index"
	ProblemOrphanIndex      ProblemKind = "orphan_index"
	ProblemHeaderMismatch   ProblemKind = "header_mismatch"
	ProblemHeaderMissing    ProblemKind = "header_missing"
	ProblemHeaderSpurious   ProblemKind = "header_spurious"
	ProblemLegacyDictionary ProblemKind = "legacy_dictionary"
	ProblemUndecodableDate  ProblemKind = "undecodable_date"
	ProblemMalformed        ProblemKind = "malformed"
	ProblemUnknownNode      ProblemKind = "unknown_node"
	ProblemMissingZeroNode  ProblemKind = "missing_zero_node"
	ProblemWordProcessing   ProblemKind = "word_processing"
)

// Problem is one finding of Verify.
type Problem struct {
	Kind   ProblemKind `json:"kind"`
	File   string      `json:"file,omitempty"`
	Record string      `json:"record,omitempty"`
	Ref    string      `json:"ref,omitempty"`
	Detail string      `json:"detail"`
}

func (p Problem) String() string {
	var b strings.Builder
	b.WriteString(string(p.Kind))
	if p.File != "" {
		b.WriteString(" file=" + p.File)
	}
	if p.Record != "" {
		b.WriteString(" record=" + p.Record)
	}
	if p.Ref != "" {
		b.WriteString(" " + p.Ref)
	}
	return b.String() + ": " + p.Detail
}

// Report is the outcome of Verify.
type Report struct {
	Mode     string    `json:"mode"`
	Entries  int       `json:"entries"`
	Records  int       `json:"records"`
	Problems []Problem `json:"problems"`
}

// OK reports whether no problem was found.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) add(kind ProblemKind, file, record, ref, format string, args ...any) {
	r.Problems = append(r.Problems, Problem{Kind: kind, File: file, Record: record, Ref: ref, Detail: fmt.Sprintf(format, args...)})
}

// fileData is what a store holds for one catalog file, split by shape.
type fileData struct {
	def     *fileman.FileDef
	header  *globals.Entry
	records map[fileman.IEN]map[string]globals.Entry // node subscript text -> entry
	wp      map[fileman.IEN]map[string][]globals.Entry
	index   []globals.Entry
	values  map[fileman.IEN]fileman.Values
}

// Verify re-reads a store against the catalog in the given mode and reports
// every referential, index, header and encoding problem it finds. A store
// produced by a successful export verifies clean.
func Verify(store *globals.Store, mode fileman.Mode) *Report {
	rep := &Report{Mode: mode.String(), Entries: store.Len(), Problems: []Problem{}}
	files := make(map[fileman.FileNumber]*fileData)
	for _, f := range Catalog.Files() {
		files[f.Number] = &fileData{
			def:     f,
			records: make(map[fileman.IEN]map[string]globals.Entry),
			wp:      make(map[fileman.IEN]map[string][]globals.Entry),
			values:  make(map[fileman.IEN]fileman.Values),
		}
	}

	for _, e := range store.Entries() {
		fd, rest := owner(files, e)
		if fd == nil {
			rep.add(ProblemUnknownNode, "", "", e.Ref(), "no catalog file is stored here")
			continue
		}
		classify(rep, fd, e, rest)
	}

	// Pieces are decoded for every file before pointers are checked.
	for _, f := range Catalog.Files() {
		fd := files[f.Number]
		rep.Records += len(fd.records)
		if f.Dictionary && mode == fileman.Legacy && len(fd.records) > 0 {
			rep.add(ProblemLegacyDictionary, f.Name, "", "", "%d dictionary records in a legacy export", len(fd.records))
		}
		for _, ien := range sortedIENs(fd.records) {
			fd.values[ien] = decodeRecord(rep, fd, ien, mode)
		}
	}
	for _, f := range Catalog.Files() {
		fd := files[f.Number]
		checkPointers(rep, files, fd, mode)
		checkIndexes(rep, fd, mode)
		checkHeader(rep, fd, mode)
		checkText(rep, fd)
	}
	return rep
}

// owner finds the file whose global and root prefix the entry falls under
// and returns the subscripts after the root.
func owner(files map[fileman.FileNumber]*fileData, e globals.Entry) (*fileData, []globals.Subscript) {
	var best *fileData
	for _, fd := range files {
		f := fd.def
		if f.Global != e.Global || len(e.Subs) <= len(f.Root) {
			continue
		}
		match := true
		for i, r := range f.Root {
			if e.Subs[i].Compare(r) != 0 {
				match = false
				break
			}
		}
		if match && (best == nil || len(f.Root) > len(best.def.Root)) {
			best = fd
		}
	}
	if best == nil {
		return nil, nil
	}
	return best, e.Subs[len(best.def.Root):]
}

func classify(rep *Report, fd *fileData, e globals.Entry, rest []globals.Subscript) {
	f := fd.def
	first := rest[0]
	if !first.IsNumeric() {
		fd.index = append(fd.index, e)
		return
	}
	if first.Text() == "0" && len(rest) == 1 {
		fd.header = &e
		return
	}
	n, err := strconv.ParseInt(first.Text(), 10, 64)
	if err != nil || n <= 0 || len(rest) < 2 {
		rep.add(ProblemUnknownNode, f.Name, "", e.Ref(), "not a record, header or index node")
		return
	}
	ien := fileman.IEN(n)
	node := rest[1].Text()
	if wp := wordProcessing(f, rest[1]); wp {
		if fd.wp[ien] == nil {
			fd.wp[ien] = make(map[string][]globals.Entry)
		}
		fd.wp[ien][node] = append(fd.wp[ien][node], e)
		return
	}
	if len(rest) != 2 || !declaredNode(f, rest[1]) {
		rep.add(ProblemUnknownNode, f.Name, ien.String(), e.Ref(), "undeclared node")
		return
	}
	if fd.records[ien] == nil {
		fd.records[ien] = make(map[string]globals.Entry)
	}
	fd.records[ien][node] = e
}

func wordProcessing(f *fileman.FileDef, sub globals.Subscript) bool {
	for _, n := range f.Nodes {
		if n.WordProcessing && n.Sub.Compare(sub) == 0 {
			return true
		}
	}
	return false
}

func declaredNode(f *fileman.FileDef, sub globals.Subscript) bool {
	for _, n := range f.Nodes {
		if !n.WordProcessing && n.Sub.Compare(sub) == 0 {
			return true
		}
	}
	return false
}

func sortedIENs[V any](m map[fileman.IEN]V) []fileman.IEN {
	out := make([]fileman.IEN, 0, len(m))
	for ien := range m {
		out = append(out, ien)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// decodeRecord parses every field node of a record back into values.
func decodeRecord(rep *Report, fd *fileData, ien fileman.IEN, mode fileman.Mode) fileman.Values {
	f := fd.def
	vals := make(fileman.Values)
	nodes := fd.records[ien]
	if _, ok := nodes["0"]; !ok {
		rep.add(ProblemMissingZeroNode, f.Name, ien.String(), "", "record has nodes but no zero node")
	}
	for _, n := range f.Nodes {
		if n.WordProcessing {
			continue
		}
		e, ok := nodes[n.Sub.Text()]
		if !ok {
			continue
		}
		pieces := strings.Split(e.Value, fileman.Delimiter)
		if len(pieces) != len(n.Fields) {
			rep.add(ProblemMalformed, f.Name, ien.String(), e.Ref(), "%d pieces, want %d", len(pieces), len(n.Fields))
			continue
		}
		for i, fld := range n.Fields {
			v, kind, detail := decodePiece(fld, pieces[i], mode)
			if detail != "" {
				rep.add(kind, f.Name, ien.String(), e.Ref(), "%s: %s", fld.Name, detail)
				continue
			}
			if !v.IsZero() {
				vals[fld.Name] = v
			}
		}
	}
	return vals
}

// decodePiece is the inverse of fileman.Render for one piece. A non-empty
// detail describes why the piece is invalid.
func decodePiece(fld fileman.Field, piece string, mode fileman.Mode) (fileman.Value, ProblemKind, string) {
	if piece == "" {
		if fld.Required {
			return fileman.Value{}, ProblemMalformed, "required field is empty"
		}
		return fileman.Value{}, "", ""
	}
	text := func() (fileman.Value, ProblemKind, string) {
		s, ok := fileman.Unquote(piece)
		if !ok || s == "" {
			return fileman.Value{}, ProblemMalformed, fmt.Sprintf("%q is not a quoted string", piece)
		}
		return fileman.Text(s), "", ""
	}
	ien := func() (fileman.Value, ProblemKind, string) {
		n, err := strconv.ParseInt(piece, 10, 64)
		if err != nil || n <= 0 || strconv.FormatInt(n, 10) != piece {
			return fileman.Value{}, ProblemMalformed, fmt.Sprintf("%q is not an IEN", piece)
		}
		return fileman.Ptr(fileman.IEN(n)), "", ""
	}
	switch fld.Type {
	case fileman.TypeString:
		return text()
	case fileman.TypeNumeric:
		f, err := strconv.ParseFloat(piece, 64)
		if err != nil {
			return fileman.Value{}, ProblemMalformed, fmt.Sprintf("%q is not numeric", piece)
		}
		return fileman.Decimal(f), "", ""
	case fileman.TypePointer:
		return ien()
	case fileman.TypeReference:
		if mode == fileman.Legacy {
			return text()
		}
		return ien()
	case fileman.TypeDate:
		d, err := fileman.DecodeDate(piece, mode)
		if err != nil {
			return fileman.Value{}, ProblemUndecodableDate, err.Error()
		}
		return fileman.On(d), "", ""
	case fileman.TypeDateTime:
		dt, err := fileman.DecodeDateTime(piece, mode)
		if err != nil {
			return fileman.Value{}, ProblemUndecodableDate, err.Error()
		}
		return fileman.At(dt), "", ""
	}
	return fileman.Value{}, ProblemMalformed, "unknown field type"
}

func checkPointers(rep *Report, files map[fileman.FileNumber]*fileData, fd *fileData, mode fileman.Mode) {
	f := fd.def
	for _, ien := range sortedIENs(fd.values) {
		vals := fd.values[ien]
		for _, n := range f.Nodes {
			for _, fld := range n.Fields {
				if fld.Type != fileman.TypePointer && (fld.Type != fileman.TypeReference || mode == fileman.Legacy) {
					continue
				}
				v, ok := vals[fld.Name]
				if !ok {
					continue
				}
				target := files[fld.Target]
				rendered, _ := fileman.Render(fld, v, mode)
				to, _ := strconv.ParseInt(rendered, 10, 64)
				if _, exists := target.records[fileman.IEN(to)]["0"]; !exists {
					rep.add(ProblemDangling, f.Name, ien.String(), "", "%s points at %s IEN %d, which does not exist", fld.Name, target.def.Name, to)
				}
			}
		}
	}
}

// checkIndexes compares the index entries present with the ones the decoded
// records call for.
func checkIndexes(rep *Report, fd *fileData, mode fileman.Mode) {
	f := fd.def
	want := make(map[string]fileman.IEN)
	for _, ien := range sortedIENs(fd.values) {
		for _, ix := range f.Indexes {
			subs, ok, err := fileman.IndexSubs(f, ix, fd.values[ien], mode)
			if err != nil || !ok {
				continue
			}
			want[globals.Ref(f.Global, append(subs, globals.Int(int64(ien)))...)] = ien
		}
	}
	declared := make(map[string]bool, len(f.Indexes))
	for _, ix := range f.Indexes {
		declared[ix.Name] = true
	}
	for _, e := range fd.index {
		ref := e.Ref()
		name := e.Subs[len(f.Root)].Text()
		if !declared[name] {
			rep.add(ProblemUnknownNode, f.Name, "", ref, "undeclared index %q", name)
			continue
		}
		if e.Value != `""` {
			rep.add(ProblemMalformed, f.Name, "", ref, "index entry value %s, want \"\"", e.Value)
		}
		if _, ok := want[ref]; !ok {
			rep.add(ProblemOrphanIndex, f.Name, "", ref, "no record matches this index entry")
			continue
		}
		delete(want, ref)
	}
	refs := make([]string, 0, len(want))
	for ref := range want {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		rep.add(ProblemMissingIndex, f.Name, want[ref].String(), ref, "index entry missing")
	}
}

func checkHeader(rep *Report, fd *fileData, mode fileman.Mode) {
	f := fd.def
	if fd.header == nil {
		if len(fd.records) > 0 {
			rep.add(ProblemHeaderMissing, f.Name, "", "", "file has %d records but no header", len(fd.records))
		}
		return
	}
	ref := fd.header.Ref()
	if len(fd.records) == 0 {
		rep.add(ProblemHeaderSpurious, f.Name, "", ref, "header on a file with no records")
		return
	}
	pieces := strings.Split(fd.header.Value, fileman.Delimiter)
	if len(pieces) != 4 {
		rep.add(ProblemMalformed, f.Name, "", ref, "header has %d pieces, want 4", len(pieces))
		return
	}
	if name, ok := fileman.Unquote(pieces[0]); !ok || name != f.Name {
		rep.add(ProblemHeaderMismatch, f.Name, "", ref, "header name %s", pieces[0])
	}
	if pieces[1] != string(f.Number) {
		rep.add(ProblemHeaderMismatch, f.Name, "", ref, "header file number %s", pieces[1])
	}
	iens := sortedIENs(fd.records)
	if top := iens[len(iens)-1]; pieces[2] != top.String() {
		rep.add(ProblemHeaderMismatch, f.Name, "", ref, "header max IEN %s, highest record is %s", pieces[2], top)
	}
	if _, err := fileman.DecodeDate(pieces[3], mode); err != nil {
		rep.add(ProblemUndecodableDate, f.Name, "", ref, "header export date: %v", err)
	}
}

// checkText validates word-processing nodes: a count at (IEN,node,0) and
// exactly that many quoted lines numbered from 1.
func checkText(rep *Report, fd *fileData) {
	f := fd.def
	for _, ien := range sortedIENs(fd.wp) {
		if _, ok := fd.records[ien]["0"]; !ok {
			rep.add(ProblemMissingZeroNode, f.Name, ien.String(), "", "text without a record")
		}
		for node, entries := range fd.wp[ien] {
			count := -1
			lines := 0
			for _, e := range entries {
				tail := e.Subs[len(f.Root)+2:]
				switch {
				case len(tail) == 1 && tail[0].Text() == "0":
					count, _ = strconv.Atoi(e.Value)
				case len(tail) == 2 && tail[1].Text() == "0" && tail[0].IsNumeric():
					lines++
					if tail[0].Text() != strconv.Itoa(lines) {
						rep.add(ProblemWordProcessing, f.Name, ien.String(), e.Ref(), "line %s out of sequence", tail[0].Text())
					}
					if _, ok := fileman.Unquote(e.Value); !ok {
						rep.add(ProblemMalformed, f.Name, ien.String(), e.Ref(), "line is not quoted")
					}
				default:
					rep.add(ProblemUnknownNode, f.Name, ien.String(), e.Ref(), "not a text line")
				}
			}
			if count != lines {
				rep.add(ProblemWordProcessing, f.Name, ien.String(), "", "%s node counts %d lines, found %d", node, count, lines)
			}
		}
	}
}
