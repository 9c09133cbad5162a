package validation

import (
	"fmt"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
)

// Code classifies a validation failure. Values are persisted with tag errors and must not change.
type Code int

// Failure codes.
const (
	None                      Code = 0
	MultipleValues            Code = 1
	ExceedMaxLength           Code = 2
	UnexpectedLength          Code = 3
	InvalidCharacters         Code = 4
	UnexpectedType            Code = 5
	NameExceedsMaxGroups      Code = 6
	NameGroupExceedsMaxLength Code = 7
	NameExceedsMaxComponents  Code = 8
	DateIsInvalid             Code = 9
	DateTimeIsInvalid         Code = 10
	TimeIsInvalid             Code = 11
	IdentifierIsInvalid       Code = 12
	ValueIsInvalid            Code = 13
	// RecordUnreadable is recorded by backfill when a record's metadata cannot be read.
	RecordUnreadable Code = 14
)

var codeText = map[Code]struct{ name, message string }{
	None:                      {"None", "no error"},
	MultipleValues:            {"MultipleValues", "element has multiple values; only single-valued elements can be indexed"},
	ExceedMaxLength:           {"ExceedMaxLength", "value exceeds the maximum length"},
	UnexpectedLength:          {"UnexpectedLength", "value does not have the required length"},
	InvalidCharacters:         {"InvalidCharacters", "value contains invalid characters"},
	UnexpectedType:            {"UnexpectedType", "element value representation does not match the registered one"},
	NameExceedsMaxGroups:      {"NameExceedsMaxGroups", "person name has more than 3 groups"},
	NameGroupExceedsMaxLength: {"NameGroupExceedsMaxLength", "person name group exceeds 64 characters"},
	NameExceedsMaxComponents:  {"NameExceedsMaxComponents", "person name group has more than 5 components"},
	DateIsInvalid:             {"DateIsInvalid", "value is not a valid date"},
	DateTimeIsInvalid:         {"DateTimeIsInvalid", "value is not a valid date time"},
	TimeIsInvalid:             {"TimeIsInvalid", "value is not a valid time"},
	IdentifierIsInvalid:       {"IdentifierIsInvalid", "value is not a valid unique identifier"},
	ValueIsInvalid:            {"ValueIsInvalid", "value cannot be parsed"},
	RecordUnreadable:          {"RecordUnreadable", "record metadata could not be read"},
}

// String returns the stable code name.
func (c Code) String() string {
	if t, ok := codeText[c]; ok {
		return t.name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Message returns a human readable description of the code.
func (c Code) Message() string {
	if t, ok := codeText[c]; ok {
		return t.message
	}
	return "unknown validation error"
}

// IsValid checks the code is known.
func (c Code) IsValid() bool {
	_, ok := codeText[c]
	return ok
}

// maxReportedValue bounds the offending value carried in an Error.
const maxReportedValue = 64

// Error describes why one element failed validation.
type Error struct {
	Code  Code
	Name  string
	VR    dicom.VR
	Value string
}

func newError(code Code, name string, vr dicom.VR, value string) *Error {
	return &Error{Code: code, Name: name, VR: vr, Value: truncate(value)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("dicom element %s (%s) value %q: %s", e.Name, e.VR, e.Value, e.Code.Message())
}

// Unwrap lets callers match any validation failure with errors.Is.
func (e *Error) Unwrap() error { return domain.ErrValidationFailed }

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxReportedValue {
		return s
	}
	return string(r[:maxReportedValue]) + "..."
}
