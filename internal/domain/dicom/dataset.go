package dicom

import (
	"sort"
	"strings"
)

// Element is one attribute of a dataset. String VRs carry decoded string values,
// binary numeric VRs carry the raw little-endian value buffer.
type Element struct {
	tag     Tag
	vr      VR
	strings []string
	raw     []byte
}

// NewStringElement creates an element holding string values.
func NewStringElement(tag Tag, vr VR, values ...string) Element {
	return Element{tag: tag, vr: vr, strings: values}
}

// NewBinaryElement creates an element holding a raw binary value buffer.
func NewBinaryElement(tag Tag, vr VR, raw []byte) Element {
	return Element{tag: tag, vr: vr, raw: raw}
}

// Tag returns the element tag.
func (e Element) Tag() Tag { return e.tag }

// VR returns the element value representation.
func (e Element) VR() VR { return e.vr }

// Strings returns the string values.
func (e Element) Strings() []string { return e.strings }

// Bytes returns the raw binary buffer.
func (e Element) Bytes() []byte { return e.raw }

// IsBinary reports whether the element carries a binary buffer.
func (e Element) IsBinary() bool { return e.raw != nil }

// Count returns the value multiplicity.
func (e Element) Count() int {
	if e.IsBinary() {
		size := e.vr.FixedSize()
		if size == 0 {
			return 1
		}
		return len(e.raw) / size
	}
	return len(e.strings)
}

// IsEmpty reports whether the element has no value at all.
func (e Element) IsEmpty() bool {
	if e.IsBinary() {
		return len(e.raw) == 0
	}
	for _, s := range e.strings {
		if strings.TrimRight(s, " \x00") != "" {
			return false
		}
	}
	return true
}

// FirstString returns the first string value.
func (e Element) FirstString() (string, bool) {
	if len(e.strings) == 0 {
		return "", false
	}
	return e.strings[0], true
}

// Dataset is a flat collection of top-level elements of one instance.
// Nested sequences are not modelled; they are never indexed.
type Dataset struct {
	elements map[Tag]Element
}

// NewDataset creates a dataset from elements. Later duplicates win.
func NewDataset(elements ...Element) *Dataset {
	d := &Dataset{elements: make(map[Tag]Element, len(elements))}
	for _, e := range elements {
		d.elements[e.tag] = e
	}
	return d
}

// Add inserts or replaces an element.
func (d *Dataset) Add(e Element) {
	d.elements[e.tag] = e
}

// Get returns the element stored under tag.
func (d *Dataset) Get(tag Tag) (Element, bool) {
	e, ok := d.elements[tag]
	return e, ok
}

// Find looks up a tag, honouring private creator reservation for private data elements.
// A private element is only matched when its reserving creator element carries creator.
func (d *Dataset) Find(tag Tag, creator string) (Element, bool) {
	if creator != "" && tag.IsPrivate() && !tag.IsPrivateCreator() {
		owner, ok := d.elements[tag.CreatorTag()]
		if !ok {
			return Element{}, false
		}
		v, _ := owner.FirstString()
		if strings.TrimRight(v, " \x00") != creator {
			return Element{}, false
		}
	}
	return d.Get(tag)
}

// FirstValue returns the first string value of tag.
func (d *Dataset) FirstValue(tag Tag) (string, bool) {
	e, ok := d.elements[tag]
	if !ok {
		return "", false
	}
	return e.FirstString()
}

// Len returns the number of elements.
func (d *Dataset) Len() int { return len(d.elements) }

// Tags returns the element tags in ascending order.
func (d *Dataset) Tags() []Tag {
	tags := make([]Tag, 0, len(d.elements))
	for t := range d.elements {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Uint32() < tags[j].Uint32() })
	return tags
}
