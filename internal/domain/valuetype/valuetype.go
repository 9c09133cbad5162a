package valuetype

import (
	"fmt"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
)

// Category is the storage partition an indexed value lands in.
type Category int

// Storage categories.
const (
	String Category = iota
	Integer
	Float
	DateTime
	StructuredName
)

// Categories lists every category in partition order.
var Categories = []Category{String, Integer, Float, DateTime, StructuredName}

// String returns the partition name.
func (c Category) String() string {
	switch c {
	case String:
		return "string"
	case Integer:
		return "long"
	case Float:
		return "double"
	case DateTime:
		return "datetime"
	case StructuredName:
		return "person_name"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// IsValid checks the category is one of the known partitions.
func (c Category) IsValid() bool {
	return c >= String && c <= StructuredName
}

// Of maps a value representation to its storage category.
func Of(vr dicom.VR) (Category, error) {
	switch vr {
	case dicom.AE, dicom.AS, dicom.CS, dicom.LO, dicom.SH, dicom.UI:
		return String, nil
	case dicom.AT, dicom.IS, dicom.SL, dicom.SS, dicom.UL, dicom.US:
		return Integer, nil
	case dicom.DS, dicom.FD, dicom.FL:
		return Float, nil
	case dicom.DA, dicom.DT, dicom.TM:
		return DateTime, nil
	case dicom.PN:
		return StructuredName, nil
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrUnsupportedVR, vr)
	}
}

// MustOf is Of for value representations already accepted by the registry.
// An unmapped code here is a programming or configuration error.
func MustOf(vr dicom.VR) Category {
	c, err := Of(vr)
	if err != nil {
		panic(err)
	}
	return c
}

// Supported returns the value representations that can be indexed.
func Supported() []dicom.VR {
	return []dicom.VR{
		dicom.AE, dicom.AS, dicom.CS, dicom.LO, dicom.SH, dicom.UI,
		dicom.AT, dicom.IS, dicom.SL, dicom.SS, dicom.UL, dicom.US,
		dicom.DS, dicom.FD, dicom.FL,
		dicom.DA, dicom.DT, dicom.TM,
		dicom.PN,
	}
}

// IsSupported reports whether vr can be indexed.
func IsSupported(vr dicom.VR) bool {
	_, err := Of(vr)
	return err == nil
}
