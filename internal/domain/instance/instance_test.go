package instance

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
)

func TestIdentifiersFrom(t *testing.T) {
	ds := dicom.NewDataset(
		dicom.NewStringElement(StudyInstanceUID, dicom.UI, "1.2"),
		dicom.NewStringElement(SeriesInstanceUID, dicom.UI, "1.2.3\x00"),
		dicom.NewStringElement(SOPInstanceUID, dicom.UI, "1.2.3.4"),
	)
	ids, err := IdentifiersFrom(ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids.SeriesUID != "1.2.3" {
		t.Errorf("expected padding stripped, got %q", ids.SeriesUID)
	}
}

func TestIdentifiersFrom_Missing(t *testing.T) {
	ds := dicom.NewDataset(dicom.NewStringElement(StudyInstanceUID, dicom.UI, "1.2"))
	_, err := IdentifiersFrom(ds)
	if !errors.Is(err, domain.ErrInvalidInstance) {
		t.Fatalf("expected ErrInvalidInstance, got %v", err)
	}
}
