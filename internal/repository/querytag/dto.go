package querytag

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
)

// descriptorToRow converts a validated descriptor to the stored form.
func descriptorToRow(d domtag.Descriptor) db.TagRow {
	return db.TagRow{
		Path:           d.Path(),
		VR:             string(d.VR),
		PrivateCreator: d.PrivateCreator,
		Level:          int(d.Level),
	}
}

// rowToEntry hydrates an Entry from its stored form.
func rowToEntry(r db.TagRow) (domtag.Entry, error) {
	tag, err := dicom.ParsePath(r.Path)
	if err != nil {
		return domtag.Entry{}, fmt.Errorf("parse path: %w", err)
	}
	vr, err := dicom.ParseVR(r.VR)
	if err != nil {
		return domtag.Entry{}, fmt.Errorf("parse vr: %w", err)
	}
	var opID uuid.UUID
	if r.OperationID != "" {
		if opID, err = uuid.Parse(r.OperationID); err != nil {
			return domtag.Entry{}, fmt.Errorf("parse operation id: %w", err)
		}
	}
	return domtag.Reconstruct(domtag.EntryFields{
		Key:            r.Key,
		Tag:            tag,
		VR:             vr,
		PrivateCreator: r.PrivateCreator,
		Level:          domtag.Level(r.Level),
		Status:         domtag.Status(r.Status),
		QueryStatus:    domtag.QueryStatus(r.QueryStatus),
		ErrorCount:     r.ErrorCount,
		OperationID:    opID,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
	}), nil
}

func rowsToEntries(rows []db.TagRow) ([]domtag.Entry, error) {
	out := make([]domtag.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEntry(r)
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", r.Key, err)
		}
		out = append(out, e)
	}
	return out, nil
}
