package dicom

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag identifies a data element by its group and element numbers.
type Tag struct {
	Group   uint16
	Element uint16
}

// NewTag creates a tag from its group and element numbers.
func NewTag(group, element uint16) Tag {
	return Tag{Group: group, Element: element}
}

// ParsePath parses the canonical 8 hex digit form, e.g. "0020000D".
func ParsePath(path string) (Tag, error) {
	if len(path) != 8 {
		return Tag{}, fmt.Errorf("tag path %q must be 8 hexadecimal digits", path)
	}
	v, err := strconv.ParseUint(path, 16, 32)
	if err != nil {
		return Tag{}, fmt.Errorf("tag path %q is not hexadecimal", path)
	}
	return Tag{Group: uint16(v >> 16), Element: uint16(v)}, nil
}

// Path returns the canonical upper-case 8 hex digit form.
func (t Tag) Path() string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// String returns the conventional "(gggg,eeee)" notation.
func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}

// Uint32 packs the tag as group<<16 | element.
func (t Tag) Uint32() uint32 {
	return uint32(t.Group)<<16 | uint32(t.Element)
}

// IsPrivate reports whether the tag belongs to an odd (private) group.
func (t Tag) IsPrivate() bool {
	return t.Group%2 == 1
}

// IsPrivateCreator reports whether the tag reserves a private block (gggg,0010-00FF).
func (t Tag) IsPrivateCreator() bool {
	return t.IsPrivate() && t.Element >= 0x0010 && t.Element <= 0x00FF
}

// CreatorTag returns the private creator element reserving this tag's block.
func (t Tag) CreatorTag() Tag {
	return Tag{Group: t.Group, Element: t.Element >> 8}
}

// IsGroupLength reports whether the tag is a (gggg,0000) group length element.
func (t Tag) IsGroupLength() bool {
	return t.Element == 0x0000
}

// NormalizePath upper-cases and trims a user-supplied tag path.
func NormalizePath(path string) string {
	return strings.ToUpper(strings.TrimSpace(path))
}
