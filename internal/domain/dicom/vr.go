package dicom

import (
	"fmt"
	"strings"
)

// VR is a two-letter DICOM value representation code.
type VR string

// Value representations.
const (
	AE VR = "AE"
	AS VR = "AS"
	AT VR = "AT"
	CS VR = "CS"
	DA VR = "DA"
	DS VR = "DS"
	DT VR = "DT"
	FD VR = "FD"
	FL VR = "FL"
	IS VR = "IS"
	LO VR = "LO"
	LT VR = "LT"
	OB VR = "OB"
	OD VR = "OD"
	OF VR = "OF"
	OL VR = "OL"
	OV VR = "OV"
	OW VR = "OW"
	PN VR = "PN"
	SH VR = "SH"
	SL VR = "SL"
	SQ VR = "SQ"
	SS VR = "SS"
	ST VR = "ST"
	SV VR = "SV"
	TM VR = "TM"
	UC VR = "UC"
	UI VR = "UI"
	UL VR = "UL"
	UN VR = "UN"
	UR VR = "UR"
	US VR = "US"
	UT VR = "UT"
	UV VR = "UV"
)

var knownVRs = map[VR]struct{}{
	AE: {}, AS: {}, AT: {}, CS: {}, DA: {}, DS: {}, DT: {}, FD: {}, FL: {}, IS: {},
	LO: {}, LT: {}, OB: {}, OD: {}, OF: {}, OL: {}, OV: {}, OW: {}, PN: {}, SH: {},
	SL: {}, SQ: {}, SS: {}, ST: {}, SV: {}, TM: {}, UC: {}, UI: {}, UL: {}, UN: {},
	UR: {}, US: {}, UT: {}, UV: {},
}

// ParseVR normalizes s and checks it names a DICOM value representation.
func ParseVR(s string) (VR, error) {
	vr := VR(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownVRs[vr]; !ok {
		return "", fmt.Errorf("unknown value representation %q", s)
	}
	return vr, nil
}

// FixedSize returns the byte width of one value for binary numeric VRs, 0 otherwise.
func (v VR) FixedSize() int {
	switch v {
	case SS, US:
		return 2
	case AT, FL, SL, UL:
		return 4
	case FD, SV, UV:
		return 8
	default:
		return 0
	}
}

// IsBinary reports whether values of this VR are encoded as fixed-width binary.
func (v VR) IsBinary() bool {
	return v.FixedSize() > 0
}
