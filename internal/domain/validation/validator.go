package validation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
)

var uidRegex = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.(0|[1-9][0-9]*))*$`)

const (
	maxShortString  = 16
	maxLongString   = 64
	maxDecimal      = 16
	maxInteger      = 12
	maxUID          = 64
	ageLength       = 4
	maxNameGroups   = 3
	maxNameGroupLen = 64
	maxNameParts    = 5
	escape          = 0x1B
)

// Validator checks that one element value can be stored as an index row.
type Validator struct {
	dict    dicom.Dictionary
	lenient bool
}

// New creates a validator. dict names elements in errors; lenient strips trailing NUL padding.
func New(dict dicom.Dictionary, lenient bool) *Validator {
	return &Validator{dict: dict, lenient: lenient}
}

// Lenient reports whether trailing NUL padding is tolerated.
func (v *Validator) Lenient() bool { return v.lenient }

// Normalize removes value padding the same way Validate does.
func (v *Validator) Normalize(s string) string {
	if v.lenient {
		return strings.TrimRight(s, " \x00")
	}
	return strings.TrimRight(s, " ")
}

// Validate checks elem against the rules of expected.
// Empty elements pass: there is nothing to index.
func (v *Validator) Validate(elem dicom.Element, expected dicom.VR) error {
	name := dicom.Name(v.dict, elem.Tag())
	if elem.VR() != expected {
		return newError(UnexpectedType, name, elem.VR(), string(elem.VR()))
	}

	if expected.IsBinary() {
		return validateBinary(elem, name)
	}

	values := elem.Strings()
	if len(values) == 0 {
		return nil
	}
	if len(values) > 1 {
		return newError(MultipleValues, name, expected, strings.Join(values, `\`))
	}

	value := v.Normalize(values[0])
	if value == "" {
		return nil
	}
	if code := validateString(expected, value); code != None {
		return newError(code, name, expected, value)
	}
	return nil
}

func validateBinary(elem dicom.Element, name string) error {
	raw := elem.Bytes()
	if len(raw) == 0 {
		return nil
	}
	size := elem.VR().FixedSize()
	if len(raw)%size == 0 && len(raw)/size > 1 {
		return newError(MultipleValues, name, elem.VR(), strconv.Itoa(len(raw)/size)+" values")
	}
	if len(raw) != size {
		return newError(UnexpectedLength, name, elem.VR(), strconv.Itoa(len(raw))+" bytes")
	}
	return nil
}

func validateString(vr dicom.VR, s string) Code {
	switch vr {
	case dicom.AE, dicom.CS:
		return checkText(s, maxShortString, false)
	case dicom.SH:
		return checkText(s, maxShortString, true)
	case dicom.LO:
		return checkText(s, maxLongString, true)
	case dicom.AS:
		return checkAge(s)
	case dicom.DA:
		if !validDate(s) {
			return DateIsInvalid
		}
	case dicom.DT:
		if !validDateTime(s) {
			return DateTimeIsInvalid
		}
	case dicom.TM:
		if !validTime(s) {
			return TimeIsInvalid
		}
	case dicom.DS:
		return checkDecimal(s)
	case dicom.IS:
		return checkInteger(s)
	case dicom.PN:
		return checkPersonName(s)
	case dicom.UI:
		if len(s) > maxUID {
			return ExceedMaxLength
		}
		if !uidRegex.MatchString(s) {
			return IdentifierIsInvalid
		}
	default:
		return UnexpectedType
	}
	return None
}

func checkText(s string, maxLen int, noBackslash bool) Code {
	if utf8.RuneCountInString(s) > maxLen {
		return ExceedMaxLength
	}
	if hasControl(s) || (noBackslash && strings.ContainsRune(s, '\\')) {
		return InvalidCharacters
	}
	return None
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != escape {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func checkAge(s string) Code {
	if len(s) != ageLength {
		return UnexpectedLength
	}
	if !isDigits(s[:3]) || !strings.ContainsRune("DWMY", rune(s[3])) {
		return InvalidCharacters
	}
	return None
}

func checkDecimal(s string) Code {
	if len(s) > maxDecimal {
		return ExceedMaxLength
	}
	t := strings.TrimSpace(s)
	for i := 0; i < len(t); i++ {
		c := t[i]
		if !(c >= '0' && c <= '9') && !strings.ContainsRune("+-.eE", rune(c)) {
			return InvalidCharacters
		}
	}
	if _, err := strconv.ParseFloat(t, 64); err != nil {
		return ValueIsInvalid
	}
	return None
}

func checkInteger(s string) Code {
	if len(s) > maxInteger {
		return ExceedMaxLength
	}
	t := strings.TrimSpace(s)
	if _, err := strconv.ParseInt(t, 10, 32); err != nil {
		return ValueIsInvalid
	}
	return None
}

func checkPersonName(s string) Code {
	if hasControl(s) || strings.ContainsRune(s, '\\') {
		return InvalidCharacters
	}
	groups := strings.Split(s, "=")
	if len(groups) > maxNameGroups {
		return NameExceedsMaxGroups
	}
	for _, g := range groups {
		if utf8.RuneCountInString(g) > maxNameGroupLen {
			return NameGroupExceedsMaxLength
		}
		if strings.Count(g, "^")+1 > maxNameParts {
			return NameExceedsMaxComponents
		}
	}
	return None
}

func validDate(s string) bool {
	switch len(s) {
	case 8:
		if !isDigits(s) {
			return false
		}
		_, err := time.Parse("20060102", s)
		return err == nil
	case 10:
		_, err := time.Parse("2006.01.02", s)
		return err == nil
	default:
		return false
	}
}

var dateTimeLayouts = map[int]string{
	4:  "2006",
	6:  "200601",
	8:  "20060102",
	10: "2006010215",
	12: "200601021504",
	14: "20060102150405",
}

func validDateTime(s string) bool {
	body := s
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		body = s[:i]
		if !validOffset(s[i:]) {
			return false
		}
	}
	if i := strings.IndexByte(body, '.'); i >= 0 {
		frac := body[i+1:]
		body = body[:i]
		if len(body) != 14 || !validFraction(frac) {
			return false
		}
	}
	layout, ok := dateTimeLayouts[len(body)]
	if !ok || !isDigits(body) {
		return false
	}
	_, err := time.Parse(layout, body)
	return err == nil
}

// validOffset checks a "&ZZXX" UTC offset suffix.
func validOffset(s string) bool {
	if len(s) != 5 || !isDigits(s[1:]) {
		return false
	}
	hh, _ := strconv.Atoi(s[1:3])
	mm, _ := strconv.Atoi(s[3:5])
	return hh <= 14 && mm <= 59
}

func validFraction(s string) bool {
	return len(s) >= 1 && len(s) <= 6 && isDigits(s)
}

var timeLayouts = map[int]string{
	2: "15",
	4: "1504",
	6: "150405",
}

func validTime(s string) bool {
	if strings.ContainsRune(s, ':') {
		return validLegacyTime(s)
	}
	body := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		body = s[:i]
		if len(body) != 6 || !validFraction(s[i+1:]) {
			return false
		}
	}
	layout, ok := timeLayouts[len(body)]
	if !ok || !isDigits(body) {
		return false
	}
	_, err := time.Parse(layout, body)
	return err == nil
}

func validLegacyTime(s string) bool {
	body := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		body = s[:i]
		if len(body) != 8 || !validFraction(s[i+1:]) {
			return false
		}
	}
	var layout string
	switch len(body) {
	case 5:
		layout = "15:04"
	case 8:
		layout = "15:04:05"
	default:
		return false
	}
	_, err := time.Parse(layout, body)
	return err == nil
}
