package querytag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	"github.com/kailas-cloud/dicomtags/internal/domain/valuetype"
)

const maxPrivateCreatorLen = 64

// AddRequest is an unvalidated request to register one tag.
type AddRequest struct {
	Path           string
	VR             string
	PrivateCreator string
	Level          string
}

// Descriptor is a validated, normalized tag ready to be registered.
type Descriptor struct {
	Tag            dicom.Tag
	VR             dicom.VR
	PrivateCreator string
	Level          Level
}

// Path returns the canonical tag path.
func (d Descriptor) Path() string { return d.Tag.Path() }

// coreTags are indexed by the built-in schema and cannot be registered.
var coreTags = map[dicom.Tag]struct{}{
	dicom.NewTag(0x0020, 0x000D): {}, // StudyInstanceUID
	dicom.NewTag(0x0020, 0x000E): {}, // SeriesInstanceUID
	dicom.NewTag(0x0008, 0x0018): {}, // SOPInstanceUID
	dicom.NewTag(0x0010, 0x0020): {}, // PatientID
	dicom.NewTag(0x0010, 0x0010): {}, // PatientName
	dicom.NewTag(0x0008, 0x0090): {}, // ReferringPhysicianName
	dicom.NewTag(0x0008, 0x0020): {}, // StudyDate
	dicom.NewTag(0x0008, 0x1030): {}, // StudyDescription
	dicom.NewTag(0x0008, 0x0050): {}, // AccessionNumber
	dicom.NewTag(0x0008, 0x0060): {}, // Modality
	dicom.NewTag(0x0040, 0x0244): {}, // PerformedProcedureStepStartDate
	dicom.NewTag(0x0008, 0x1090): {}, // ManufacturerModelName
	dicom.NewTag(0x0010, 0x0030): {}, // PatientBirthDate
}

// IsCoreTag reports whether tag is covered by the built-in index set.
func IsCoreTag(tag dicom.Tag) bool {
	_, ok := coreTags[tag]
	return ok
}

// ParseTag resolves an 8 hex digit path or a dictionary keyword.
func ParseTag(path string, dict dicom.Dictionary) (dicom.Tag, error) {
	p := dicom.NormalizePath(path)
	if p == "" {
		return dicom.Tag{}, fmt.Errorf("%w: tag path is required", domain.ErrInvalidTag)
	}
	if tag, err := dicom.ParsePath(p); err == nil {
		return tag, nil
	}
	if dict != nil {
		if e, ok := dict.ByKeyword(path); ok {
			return e.Tag, nil
		}
	}
	return dicom.Tag{}, fmt.Errorf("%w: %q is neither a tag path nor a known keyword", domain.ErrInvalidTag, path)
}

// NewDescriptor validates one add request against the dictionary.
// Returned errors wrap a domain sentinel and name the offending path.
func NewDescriptor(req AddRequest, dict dicom.Dictionary) (Descriptor, error) {
	tag, err := ParseTag(req.Path, dict)
	if err != nil {
		return Descriptor{}, domain.NewTagError(req.Path, err)
	}
	path := tag.Path()
	fail := func(err error) (Descriptor, error) {
		return Descriptor{}, domain.NewTagError(path, err)
	}

	level, err := ParseLevel(req.Level)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", domain.ErrInvalidTag, err))
	}
	if tag.IsGroupLength() {
		return fail(fmt.Errorf("%w: group length elements cannot be indexed", domain.ErrInvalidTag))
	}

	var vr dicom.VR
	if req.VR != "" {
		if vr, err = dicom.ParseVR(req.VR); err != nil {
			return fail(fmt.Errorf("%w: %w", domain.ErrInvalidTag, err))
		}
	}
	creator := strings.TrimSpace(req.PrivateCreator)

	if tag.IsPrivate() {
		if tag.IsPrivateCreator() {
			return fail(fmt.Errorf("%w: private creator elements cannot be indexed", domain.ErrInvalidTag))
		}
		if vr == "" {
			return fail(domain.ErrMissingVR)
		}
		if err := validatePrivateCreator(creator); err != nil {
			return fail(err)
		}
	} else {
		if IsCoreTag(tag) {
			return fail(domain.ErrAlreadySupported)
		}
		if creator != "" {
			return fail(fmt.Errorf("%w: private creator is only allowed on private tags", domain.ErrInvalidTag))
		}
		var entry dicom.DictionaryEntry
		var ok bool
		if dict != nil {
			entry, ok = dict.ByTag(tag)
		}
		if !ok {
			return fail(fmt.Errorf("%w: unknown standard tag", domain.ErrInvalidTag))
		}
		if vr == "" {
			vr = entry.DefaultVR()
		} else if !entry.AllowsVR(vr) {
			return fail(fmt.Errorf("%w: value representation %s is not allowed for %s", domain.ErrInvalidTag, vr, entry.Keyword))
		}
	}

	if !valuetype.IsSupported(vr) {
		return fail(fmt.Errorf("%w: %s", domain.ErrUnsupportedVR, vr))
	}

	return Descriptor{Tag: tag, VR: vr, PrivateCreator: creator, Level: level}, nil
}

func validatePrivateCreator(s string) error {
	if utf8.RuneCountInString(s) > maxPrivateCreatorLen {
		return fmt.Errorf("%w: private creator exceeds %d characters", domain.ErrInvalidTag, maxPrivateCreatorLen)
	}
	for _, r := range s {
		if r < 0x20 || r == '\\' {
			return fmt.Errorf("%w: private creator contains invalid characters", domain.ErrInvalidTag)
		}
	}
	return nil
}
