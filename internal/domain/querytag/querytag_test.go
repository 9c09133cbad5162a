package querytag

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
)

func TestNewDescriptor_StandardDefaultVR(t *testing.T) {
	d, err := NewDescriptor(AddRequest{Path: "00101010", Level: "study"}, dicom.Standard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.VR != dicom.AS || d.Level != LevelStudy || d.Path() != "00101010" {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestNewDescriptor_Keyword(t *testing.T) {
	d, err := NewDescriptor(AddRequest{Path: "DeviceSerialNumber", Level: "Series"}, dicom.Standard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Tag != dicom.NewTag(0x0018, 0x1000) || d.VR != dicom.LO {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestNewDescriptor_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  AddRequest
		want error
	}{
		{"core tag", AddRequest{Path: "0020000D", Level: "Study"}, domain.ErrAlreadySupported},
		{"core tag by keyword", AddRequest{Path: "PatientName", Level: "Study"}, domain.ErrAlreadySupported},
		{"private without vr", AddRequest{Path: "00091001", Level: "Instance"}, domain.ErrMissingVR},
		{"private creator element", AddRequest{Path: "00090010", VR: "LO", Level: "Instance"}, domain.ErrInvalidTag},
		{"sequence", AddRequest{Path: "00081115", Level: "Series"}, domain.ErrUnsupportedVR},
		{"text vr", AddRequest{Path: "00104000", Level: "Study"}, domain.ErrUnsupportedVR},
		{"private unsupported vr", AddRequest{Path: "00091001", VR: "OB", Level: "Instance"}, domain.ErrUnsupportedVR},
		{"vr not allowed", AddRequest{Path: "00181000", VR: "SH", Level: "Series"}, domain.ErrInvalidTag},
		{"unknown vr", AddRequest{Path: "00091001", VR: "QQ", Level: "Instance"}, domain.ErrInvalidTag},
		{"creator on standard", AddRequest{Path: "00181000", PrivateCreator: "X", Level: "Series"}, domain.ErrInvalidTag},
		{"unknown standard", AddRequest{Path: "00081234", Level: "Series"}, domain.ErrInvalidTag},
		{"bad path", AddRequest{Path: "nope", Level: "Series"}, domain.ErrInvalidTag},
		{"bad level", AddRequest{Path: "00181000", Level: "patient"}, domain.ErrInvalidTag},
		{"group length", AddRequest{Path: "00090000", VR: "UL", Level: "Study"}, domain.ErrInvalidTag},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDescriptor(tc.req, dicom.Standard)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var te *domain.TagError
			if !errors.As(err, &te) || te.Path == "" {
				t.Errorf("error should name the tag: %v", err)
			}
		})
	}
}

func TestNewDescriptor_Private(t *testing.T) {
	d, err := NewDescriptor(AddRequest{Path: "00091001", VR: "ds", PrivateCreator: " ACME ", Level: "Instance"}, dicom.Standard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.VR != dicom.DS || d.PrivateCreator != "ACME" {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestEntry_Eligibility(t *testing.T) {
	tests := []struct {
		status    Status
		query     QueryStatus
		eligible  bool
		queryable bool
	}{
		{StatusAdding, QueryEnabled, false, false},
		{StatusReindexing, QueryEnabled, true, false},
		{StatusReady, QueryEnabled, true, true},
		{StatusReady, QueryDisabled, true, false},
		{StatusDeleting, QueryEnabled, false, false},
	}
	for _, tc := range tests {
		e := Reconstruct(EntryFields{Status: tc.status, QueryStatus: tc.query})
		if e.IsEligible() != tc.eligible || e.IsQueryable() != tc.queryable {
			t.Errorf("%s/%s: eligible=%v queryable=%v", tc.status, tc.query, e.IsEligible(), e.IsQueryable())
		}
	}
}

func TestEntry_OperationID(t *testing.T) {
	if _, ok := Reconstruct(EntryFields{}).OperationID(); ok {
		t.Error("zero entry should have no operation")
	}
	id := uuid.New()
	got, ok := Reconstruct(EntryFields{OperationID: id}).OperationID()
	if !ok || got != id {
		t.Errorf("expected %s, got %s", id, got)
	}
}

func TestSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Snapshot{
		Entries: []Entry{
			Reconstruct(EntryFields{Key: 1, Status: StatusReady}),
			Reconstruct(EntryFields{Key: 2, Status: StatusAdding}),
			Reconstruct(EntryFields{Key: 3, Status: StatusReindexing}),
		},
		RefreshedAt: now.Add(-10 * time.Second),
	}
	if got := s.Eligible(); len(got) != 2 || got[0].Key() != 1 || got[1].Key() != 3 {
		t.Errorf("unexpected eligible set %v", got)
	}
	if s.IsStale(now, time.Minute) {
		t.Error("10s old snapshot should be fresh with 1m max age")
	}
	if !s.IsStale(now, 10*time.Second) {
		t.Error("snapshot at max age should be stale")
	}
	if !(Snapshot{}).IsStale(now, time.Hour) {
		t.Error("zero snapshot should be stale")
	}
}

func TestParseLevelAndQueryStatus(t *testing.T) {
	if l, err := ParseLevel("SERIES"); err != nil || l != LevelSeries {
		t.Errorf("unexpected level %v %v", l, err)
	}
	if q, err := ParseQueryStatus("disabled"); err != nil || q != QueryDisabled {
		t.Errorf("unexpected query status %v %v", q, err)
	}
	if _, err := ParseQueryStatus("maybe"); err == nil {
		t.Error("expected error")
	}
}
