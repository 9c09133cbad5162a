package instance

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	"github.com/kailas-cloud/dicomtags/internal/domain/index"
)

// Identifying attributes of an instance.
var (
	StudyInstanceUID  = dicom.NewTag(0x0020, 0x000D)
	SeriesInstanceUID = dicom.NewTag(0x0020, 0x000E)
	SOPInstanceUID    = dicom.NewTag(0x0008, 0x0018)
)

// Identifiers are the study, series and SOP instance UIDs of one record.
type Identifiers struct {
	StudyUID  string
	SeriesUID string
	SOPUID    string
}

// IdentifiersFrom reads the identifying UIDs from a dataset.
func IdentifiersFrom(ds *dicom.Dataset) (Identifiers, error) {
	var ids Identifiers
	for _, f := range []struct {
		tag  dicom.Tag
		name string
		dst  *string
	}{
		{StudyInstanceUID, "StudyInstanceUID", &ids.StudyUID},
		{SeriesInstanceUID, "SeriesInstanceUID", &ids.SeriesUID},
		{SOPInstanceUID, "SOPInstanceUID", &ids.SOPUID},
	} {
		v, _ := ds.FirstValue(f.tag)
		v = strings.TrimRight(v, " \x00")
		if v == "" {
			return Identifiers{}, fmt.Errorf("%w: %s is missing", domain.ErrInvalidInstance, f.name)
		}
		*f.dst = v
	}
	return ids, nil
}

// Instance is a persisted record with its assigned watermark.
type Instance struct {
	Watermark int64
	Keys      index.Keys
	Identifiers
	CreatedAt time.Time
}
