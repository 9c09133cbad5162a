package dicom

import "strings"

// DictionaryEntry describes one standard attribute.
type DictionaryEntry struct {
	Tag     Tag
	Keyword string
	VRs     []VR // first entry is the default
}

// DefaultVR returns the preferred value representation.
func (e DictionaryEntry) DefaultVR() VR {
	if len(e.VRs) == 0 {
		return ""
	}
	return e.VRs[0]
}

// AllowsVR reports whether vr is one of the entry's value representations.
func (e DictionaryEntry) AllowsVR(vr VR) bool {
	for _, v := range e.VRs {
		if v == vr {
			return true
		}
	}
	return false
}

// Dictionary resolves standard attributes by tag or keyword.
type Dictionary interface {
	ByTag(tag Tag) (DictionaryEntry, bool)
	ByKeyword(keyword string) (DictionaryEntry, bool)
}

// StaticDictionary is an in-memory dictionary.
type StaticDictionary struct {
	byTag     map[Tag]DictionaryEntry
	byKeyword map[string]DictionaryEntry
}

// NewStaticDictionary indexes entries by tag and case-insensitive keyword.
func NewStaticDictionary(entries []DictionaryEntry) *StaticDictionary {
	d := &StaticDictionary{
		byTag:     make(map[Tag]DictionaryEntry, len(entries)),
		byKeyword: make(map[string]DictionaryEntry, len(entries)),
	}
	for _, e := range entries {
		d.byTag[e.Tag] = e
		d.byKeyword[strings.ToLower(e.Keyword)] = e
	}
	return d
}

// ByTag looks up an entry by tag.
func (d *StaticDictionary) ByTag(tag Tag) (DictionaryEntry, bool) {
	e, ok := d.byTag[tag]
	return e, ok
}

// ByKeyword looks up an entry by keyword, ignoring case.
func (d *StaticDictionary) ByKeyword(keyword string) (DictionaryEntry, bool) {
	e, ok := d.byKeyword[strings.ToLower(strings.TrimSpace(keyword))]
	return e, ok
}

// Name returns the keyword of a standard tag, or its path.
func Name(dict Dictionary, tag Tag) string {
	if dict != nil {
		if e, ok := dict.ByTag(tag); ok {
			return e.Keyword
		}
	}
	return tag.Path()
}

func entry(group, element uint16, keyword string, vrs ...VR) DictionaryEntry {
	return DictionaryEntry{Tag: NewTag(group, element), Keyword: keyword, VRs: vrs}
}

// Standard is the subset of the public data dictionary that this service knows about.
// The full dictionary belongs to the parsing library and is plugged in through Dictionary.
var Standard = NewStaticDictionary([]DictionaryEntry{
	entry(0x0008, 0x0005, "SpecificCharacterSet", CS),
	entry(0x0008, 0x0008, "ImageType", CS),
	entry(0x0008, 0x0012, "InstanceCreationDate", DA),
	entry(0x0008, 0x0013, "InstanceCreationTime", TM),
	entry(0x0008, 0x0016, "SOPClassUID", UI),
	entry(0x0008, 0x0018, "SOPInstanceUID", UI),
	entry(0x0008, 0x0020, "StudyDate", DA),
	entry(0x0008, 0x0021, "SeriesDate", DA),
	entry(0x0008, 0x0022, "AcquisitionDate", DA),
	entry(0x0008, 0x0023, "ContentDate", DA),
	entry(0x0008, 0x002A, "AcquisitionDateTime", DT),
	entry(0x0008, 0x0030, "StudyTime", TM),
	entry(0x0008, 0x0031, "SeriesTime", TM),
	entry(0x0008, 0x0050, "AccessionNumber", SH),
	entry(0x0008, 0x0054, "RetrieveAETitle", AE),
	entry(0x0008, 0x0056, "InstanceAvailability", CS),
	entry(0x0008, 0x0060, "Modality", CS),
	entry(0x0008, 0x0061, "ModalitiesInStudy", CS),
	entry(0x0008, 0x0070, "Manufacturer", LO),
	entry(0x0008, 0x0080, "InstitutionName", LO),
	entry(0x0008, 0x0090, "ReferringPhysicianName", PN),
	entry(0x0008, 0x0100, "CodeValue", SH),
	entry(0x0008, 0x0102, "CodingSchemeDesignator", SH),
	entry(0x0008, 0x0104, "CodeMeaning", LO),
	entry(0x0008, 0x0201, "TimezoneOffsetFromUTC", SH),
	entry(0x0008, 0x1010, "StationName", SH),
	entry(0x0008, 0x1030, "StudyDescription", LO),
	entry(0x0008, 0x103E, "SeriesDescription", LO),
	entry(0x0008, 0x1040, "InstitutionalDepartmentName", LO),
	entry(0x0008, 0x1050, "PerformingPhysicianName", PN),
	entry(0x0008, 0x1090, "ManufacturerModelName", LO),
	entry(0x0008, 0x1115, "ReferencedSeriesSequence", SQ),
	entry(0x0010, 0x0010, "PatientName", PN),
	entry(0x0010, 0x0020, "PatientID", LO),
	entry(0x0010, 0x0030, "PatientBirthDate", DA),
	entry(0x0010, 0x0032, "PatientBirthTime", TM),
	entry(0x0010, 0x0040, "PatientSex", CS),
	entry(0x0010, 0x1001, "OtherPatientNames", PN),
	entry(0x0010, 0x1010, "PatientAge", AS),
	entry(0x0010, 0x1020, "PatientSize", DS),
	entry(0x0010, 0x1030, "PatientWeight", DS),
	entry(0x0010, 0x2160, "EthnicGroup", SH),
	entry(0x0010, 0x21B0, "AdditionalPatientHistory", LT),
	entry(0x0010, 0x4000, "PatientComments", LT),
	entry(0x0018, 0x0015, "BodyPartExamined", CS),
	entry(0x0018, 0x0050, "SliceThickness", DS),
	entry(0x0018, 0x0060, "KVP", DS),
	entry(0x0018, 0x1000, "DeviceSerialNumber", LO),
	entry(0x0018, 0x1020, "SoftwareVersions", LO),
	entry(0x0018, 0x1030, "ProtocolName", LO),
	entry(0x0018, 0x1150, "ExposureTime", IS),
	entry(0x0018, 0x9087, "DiffusionBValue", FD),
	entry(0x0018, 0x9219, "TagAngleSecondAxis", SS),
	entry(0x0018, 0x9345, "CTDIvol", FD),
	entry(0x0020, 0x000D, "StudyInstanceUID", UI),
	entry(0x0020, 0x000E, "SeriesInstanceUID", UI),
	entry(0x0020, 0x0010, "StudyID", SH),
	entry(0x0020, 0x0011, "SeriesNumber", IS),
	entry(0x0020, 0x0013, "InstanceNumber", IS),
	entry(0x0020, 0x0052, "FrameOfReferenceUID", UI),
	entry(0x0020, 0x1041, "SliceLocation", DS),
	entry(0x0020, 0x9128, "TemporalPositionIndex", UL),
	entry(0x0020, 0x9241, "NominalPercentageOfCardiacPhase", FL),
	entry(0x0028, 0x0002, "SamplesPerPixel", US),
	entry(0x0028, 0x0008, "NumberOfFrames", IS),
	entry(0x0028, 0x0009, "FrameIncrementPointer", AT),
	entry(0x0028, 0x0010, "Rows", US),
	entry(0x0028, 0x0011, "Columns", US),
	entry(0x0028, 0x0100, "BitsAllocated", US),
	entry(0x0028, 0x0106, "SmallestImagePixelValue", US, SS),
	entry(0x0028, 0x0120, "PixelPaddingValue", US, SS),
	entry(0x0028, 0x1052, "RescaleIntercept", DS),
	entry(0x0028, 0x1053, "RescaleSlope", DS),
	entry(0x0032, 0x1032, "RequestingPhysician", PN),
	entry(0x0032, 0x1033, "RequestingService", LO),
	entry(0x0032, 0x1060, "RequestedProcedureDescription", LO),
	entry(0x0038, 0x0010, "AdmissionID", LO),
	entry(0x0040, 0x0241, "PerformedStationAETitle", AE),
	entry(0x0040, 0x0244, "PerformedProcedureStepStartDate", DA),
	entry(0x0040, 0x0245, "PerformedProcedureStepStartTime", TM),
	entry(0x0040, 0x0253, "PerformedProcedureStepID", SH),
	entry(0x0040, 0x0254, "PerformedProcedureStepDescription", LO),
	entry(0x0040, 0x1001, "RequestedProcedureID", SH),
	entry(0x0040, 0x9224, "RealWorldValueIntercept", FD),
	entry(0x0040, 0x9225, "RealWorldValueSlope", FD),
	entry(0x0040, 0xA040, "ValueType", CS),
	entry(0x0040, 0xA043, "ConceptNameCodeSequence", SQ),
	entry(0x0040, 0xA120, "DateTime", DT),
	entry(0x0040, 0xA121, "Date", DA),
	entry(0x0040, 0xA122, "Time", TM),
	entry(0x0040, 0xA124, "UID", UI),
	entry(0x0040, 0xA160, "TextValue", UT),
	entry(0x0040, 0xA161, "FloatingPointValue", FD),
	entry(0x0040, 0xA162, "RationalNumeratorValue", SL),
	entry(0x0040, 0xA163, "RationalDenominatorValue", UL),
	entry(0x0040, 0xA30A, "NumericValue", DS),
	entry(0x0054, 0x1001, "Units", CS),
	entry(0x0054, 0x1300, "FrameReferenceTime", DS),
	entry(0x0054, 0x1321, "DecayFactor", DS),
})
