package fileman

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synthetichealth/vistaexport/internal/platform/globals"
)

// Error kinds. Every failure of a run is one of these; none is transient.
var (
	ErrInvalidCalendarDate = errors.New("invalid calendar date")
	ErrDateOutOfRange      = errors.New("date out of range")
	ErrUnquotableValue     = errors.New("unquotable value")
	ErrIncompleteFields    = errors.New("incomplete fields")
	ErrFieldType           = errors.New("field type mismatch")
	ErrDanglingPointer     = errors.New("dangling pointer")
	ErrPhaseOrder          = errors.New("export phase out of order")
	ErrDuplicateKey        = globals.ErrDuplicateKey
)

// Error locates a failure: which file, which record (IEN, natural key or
// source entity id) and which field.
type Error struct {
	Kind   error
	File   string
	Record string
	Field  string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("fileman: ")
	b.WriteString(e.Kind.Error())
	var loc []string
	if e.File != "" {
		loc = append(loc, "file="+e.File)
	}
	if e.Record != "" {
		loc = append(loc, "record="+e.Record)
	}
	if e.Field != "" {
		loc = append(loc, "field="+e.Field)
	}
	if len(loc) > 0 {
		b.WriteString(" [" + strings.Join(loc, " ") + "]")
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Locate fills in the file and record of err when they are not already
// known. Errors that are not *Error, such as a store collision, are wrapped
// into one so callers always see the location.
func Locate(err error, file, record string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.File == "" {
			fe.File = file
		}
		if fe.Record == "" {
			fe.Record = record
		}
		return fe
	}
	kind := err
	if errors.Is(err, ErrDuplicateKey) {
		kind = ErrDuplicateKey
	}
	return &Error{Kind: kind, File: file, Record: record, Detail: err.Error()}
}
