package fileman

import (
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates the pieces of a composite node value.
const Delimiter = "^"

// IEN is an internal entry number, unique per file within a run.
type IEN int64

func (n IEN) String() string { return strconv.FormatInt(int64(n), 10) }

// FieldType is the declared type of a field.
type FieldType int

const (
	TypeString FieldType = iota
	TypeNumeric
	// TypePointer always holds an IEN of a record created earlier in the run
	// (patients and visits).
	TypePointer
	// TypeReference points at a dictionary file: an IEN in pointer-clean
	// mode, the concept's literal text in legacy mode.
	TypeReference
	TypeDate
	TypeDateTime
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumeric:
		return "numeric"
	case TypePointer:
		return "pointer"
	case TypeReference:
		return "reference"
	case TypeDate:
		return "date"
	case TypeDateTime:
		return "datetime"
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// Field declares one piece of a node.
type Field struct {
	Name     string
	Type     FieldType
	Target   FileNumber // pointer and reference fields only
	Required bool
}

// S, N, D, DT, P and R are shorthand constructors used by file layouts.
func S(name string) Field                   { return Field{Name: name, Type: TypeString} }
func N(name string) Field                   { return Field{Name: name, Type: TypeNumeric} }
func D(name string) Field                   { return Field{Name: name, Type: TypeDate} }
func DT(name string) Field                  { return Field{Name: name, Type: TypeDateTime} }
func P(name string, target FileNumber) Field { return Field{Name: name, Type: TypePointer, Target: target} }
func R(name string, target FileNumber) Field {
	return Field{Name: name, Type: TypeReference, Target: target}
}

// Req marks the field as required.
func (f Field) Req() Field {
	f.Required = true
	return f
}

type valueKind int

const (
	kindNone valueKind = iota
	kindText
	kindNumber
	kindIEN
	kindDate
	kindDateTime
)

// Value is a typed field value. The zero Value is absent.
type Value struct {
	kind valueKind
	text string
	ien  IEN
	date Date
	dt   DateTime
}

// Text returns a string value; the empty string is absent.
func Text(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{kind: kindText, text: s}
}

// Int returns a numeric value.
func Int(n int64) Value {
	return Value{kind: kindNumber, text: strconv.FormatInt(n, 10)}
}

// Decimal returns a numeric value rendered with the shortest exact form.
func Decimal(f float64) Value {
	return Value{kind: kindNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Ptr returns a pointer value; a non-positive IEN is absent.
func Ptr(ien IEN) Value {
	if ien <= 0 {
		return Value{}
	}
	return Value{kind: kindIEN, ien: ien}
}

// On returns a date value.
func On(d Date) Value { return Value{kind: kindDate, date: d} }

// At returns a date/time value.
func At(dt DateTime) Value { return Value{kind: kindDateTime, dt: dt} }

// IsZero reports whether the value is absent.
func (v Value) IsZero() bool { return v.kind == kindNone }

// Values maps field names to values for one record.
type Values map[string]Value

// Render encodes a single field value in the given mode.
func Render(f Field, v Value, mode Mode) (string, error) {
	if v.IsZero() {
		if f.Required {
			return "", newError(ErrIncompleteFields, f.Name, "required %s field is empty", f.Type)
		}
		return "", nil
	}
	switch f.Type {
	case TypeString:
		if v.kind != kindText {
			return "", mismatch(f, v)
		}
		return Quote(f.Name, v.text)
	case TypeNumeric:
		if v.kind != kindNumber {
			return "", mismatch(f, v)
		}
		return v.text, nil
	case TypePointer:
		if v.kind != kindIEN {
			return "", mismatch(f, v)
		}
		return v.ien.String(), nil
	case TypeReference:
		if mode == Legacy {
			if v.kind != kindText {
				return "", mismatch(f, v)
			}
			return Quote(f.Name, v.text)
		}
		if v.kind != kindIEN {
			return "", mismatch(f, v)
		}
		return v.ien.String(), nil
	case TypeDate:
		if v.kind != kindDate {
			return "", mismatch(f, v)
		}
		s, err := EncodeDate(v.date, mode)
		return s, withField(err, f.Name)
	case TypeDateTime:
		if v.kind != kindDateTime {
			return "", mismatch(f, v)
		}
		s, err := EncodeDateTime(v.dt, mode)
		return s, withField(err, f.Name)
	}
	return "", newError(ErrFieldType, f.Name, "unknown field type %v", f.Type)
}

// Quote wraps s in double quotes. The store has no escape syntax, so a
// value holding a quote or the piece delimiter cannot be represented.
func Quote(field, s string) (string, error) {
	if strings.Contains(s, `"`) {
		return "", newError(ErrUnquotableValue, field, "value %q contains a double quote", s)
	}
	if strings.Contains(s, Delimiter) {
		return "", newError(ErrUnquotableValue, field, "value %q contains the %q delimiter", s, Delimiter)
	}
	return `"` + s + `"`, nil
}

// Unquote is the inverse of Quote.
func Unquote(s string) (string, bool) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", false
	}
	inner := s[1 : len(s)-1]
	if strings.Contains(inner, `"`) {
		return "", false
	}
	return inner, true
}

// RenderNode renders fields in declared order joined by the delimiter.
// Trailing empty pieces are kept.
func RenderNode(fields []Field, vals Values, mode Mode) (string, error) {
	pieces := make([]string, len(fields))
	for i, f := range fields {
		s, err := Render(f, vals[f.Name], mode)
		if err != nil {
			return "", err
		}
		pieces[i] = s
	}
	return strings.Join(pieces, Delimiter), nil
}

func mismatch(f Field, v Value) error {
	return newError(ErrFieldType, f.Name, "%s field given a %s value", f.Type, v.kindName())
}

func (v Value) kindName() string {
	switch v.kind {
	case kindText:
		return "text"
	case kindNumber:
		return "numeric"
	case kindIEN:
		return "IEN"
	case kindDate:
		return "date"
	case kindDateTime:
		return "datetime"
	}
	return "empty"
}

func withField(err error, field string) error {
	if fe, ok := err.(*Error); ok && fe.Field == "" {
		fe.Field = field
	}
	return err
}
