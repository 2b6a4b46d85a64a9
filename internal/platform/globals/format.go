package globals

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteTo serializes the store one node per line in collation order:
//
//	^DPT(1,0)="DOE,JANE"^"F"^2800515
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, e := range s.Entries() {
		c, err := bw.WriteString(e.Ref() + "=" + e.Value + "\n")
		n += int64(c)
		if err != nil {
			return n, fmt.Errorf("globals: write %s: %w", e.Ref(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("globals: flush: %w", err)
	}
	return n, nil
}

// String returns the serialized store.
func (s *Store) String() string {
	var b strings.Builder
	_, _ = s.WriteTo(&b)
	return b.String()
}

// Parse reads a serialized store. Blank lines are skipped; a repeated node
// is reported as ErrDuplicateKey.
func Parse(r io.Reader) (*Store, error) {
	st := NewStore()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		e, err := ParseLine(text)
		if err != nil {
			return nil, fmt.Errorf("globals: line %d: %w", line, err)
		}
		if err := st.PutAll([]Entry{e}); err != nil {
			return nil, fmt.Errorf("globals: line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("globals: read: %w", err)
	}
	return st, nil
}

// ParseLine parses a single `global(subs)=value` line.
func ParseLine(text string) (Entry, error) {
	if !strings.HasPrefix(text, "^") {
		return Entry{}, fmt.Errorf("node reference must start with ^: %q", text)
	}
	i := 1
	for i < len(text) && text[i] != '(' && text[i] != '=' {
		i++
	}
	if i >= len(text) {
		return Entry{}, fmt.Errorf("missing '=' in %q", text)
	}
	e := Entry{Global: text[:i]}
	if text[i] == '(' {
		subs, next, err := parseSubscripts(text, i+1)
		if err != nil {
			return Entry{}, err
		}
		e.Subs = subs
		i = next
	}
	if i >= len(text) || text[i] != '=' {
		return Entry{}, fmt.Errorf("missing '=' in %q", text)
	}
	e.Value = text[i+1:]
	return e, nil
}

// parseSubscripts reads from just after '(' to the matching ')' and returns
// the index following it.
func parseSubscripts(text string, i int) ([]Subscript, int, error) {
	var subs []Subscript
	for {
		if i >= len(text) {
			return nil, 0, fmt.Errorf("unterminated subscript list in %q", text)
		}
		var sub Subscript
		if text[i] == '"' {
			end := strings.IndexByte(text[i+1:], '"')
			if end < 0 {
				return nil, 0, fmt.Errorf("unterminated string subscript in %q", text)
			}
			sub = Str(text[i+1 : i+1+end])
			i += end + 2
		} else {
			j := i
			for j < len(text) && text[j] != ',' && text[j] != ')' {
				j++
			}
			num, err := Number(text[i:j])
			if err != nil {
				return nil, 0, err
			}
			sub = num
			i = j
		}
		subs = append(subs, sub)
		if i >= len(text) {
			return nil, 0, fmt.Errorf("unterminated subscript list in %q", text)
		}
		switch text[i] {
		case ',':
			i++
		case ')':
			return subs, i + 1, nil
		default:
			return nil, 0, fmt.Errorf("unexpected %q after subscript in %q", text[i], text)
		}
	}
}
