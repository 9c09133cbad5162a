package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	"github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	"github.com/kailas-cloud/dicomtags/internal/domain/valuetype"
)

// NewRow builds the row of entry for a validated element. text is the normalized string value;
// it is ignored for binary elements.
func NewRow(entry querytag.Entry, keys Keys, watermark int64, elem dicom.Element, text string) (Row, error) {
	cat, err := valuetype.Of(elem.VR())
	if err != nil {
		return Row{}, err
	}
	row := Row{
		TagKey:    entry.Key(),
		Level:     entry.Level(),
		Category:  cat,
		Keys:      keys.ForLevel(entry.Level()),
		Watermark: watermark,
	}

	switch cat {
	case valuetype.String:
		row.String = text
	case valuetype.Integer:
		row.Int, err = intValue(elem, text)
	case valuetype.Float:
		row.Float, err = floatValue(elem, text)
	case valuetype.DateTime:
		row.Time, err = timeValue(elem.VR(), text)
	case valuetype.StructuredName:
		row.Name = text
	}
	if err != nil {
		return Row{}, fmt.Errorf("convert %s value: %w", elem.VR(), err)
	}
	return row, nil
}

func intValue(elem dicom.Element, text string) (int64, error) {
	raw := elem.Bytes()
	switch elem.VR() {
	case dicom.IS:
		return strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	case dicom.AT:
		group := binary.LittleEndian.Uint16(raw[0:])
		element := binary.LittleEndian.Uint16(raw[2:])
		return int64(dicom.NewTag(group, element).Uint32()), nil
	case dicom.SS:
		return int64(int16(binary.LittleEndian.Uint16(raw))), nil
	case dicom.US:
		return int64(binary.LittleEndian.Uint16(raw)), nil
	case dicom.SL:
		return int64(int32(binary.LittleEndian.Uint32(raw))), nil
	case dicom.UL:
		return int64(binary.LittleEndian.Uint32(raw)), nil
	default:
		return 0, fmt.Errorf("no integer conversion for %s", elem.VR())
	}
}

func floatValue(elem dicom.Element, text string) (float64, error) {
	raw := elem.Bytes()
	switch elem.VR() {
	case dicom.DS:
		return strconv.ParseFloat(strings.TrimSpace(text), 64)
	case dicom.FL:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	case dicom.FD:
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
	default:
		return 0, fmt.Errorf("no float conversion for %s", elem.VR())
	}
}

var (
	dateTimeLayouts = map[int]string{
		4:  "2006",
		6:  "200601",
		8:  "20060102",
		10: "2006010215",
		12: "200601021504",
		14: "20060102150405",
	}
	timeLayouts = map[int]string{
		2: "15",
		4: "1504",
		6: "150405",
		5: "15:04",
		8: "15:04:05",
	}
)

// timeValue converts DA, DT and TM values. DT offsets are normalized to UTC.
// TM values are anchored on 0001-01-01.
func timeValue(vr dicom.VR, s string) (time.Time, error) {
	switch vr {
	case dicom.DA:
		if len(s) == 10 {
			return time.Parse("2006.01.02", s)
		}
		return time.Parse("20060102", s)
	case dicom.DT:
		return parseDateTime(s)
	case dicom.TM:
		body, frac := splitFraction(s)
		layout, ok := timeLayouts[len(body)]
		if !ok {
			return time.Time{}, fmt.Errorf("invalid time %q", s)
		}
		t, err := time.Parse(layout, body)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(1, 1, 1, t.Hour(), t.Minute(), t.Second(), frac, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("no time conversion for %s", vr)
	}
}

func parseDateTime(s string) (time.Time, error) {
	body, loc := s, time.UTC
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		off := s[i:]
		if len(off) != 5 {
			return time.Time{}, fmt.Errorf("invalid offset %q", off)
		}
		hh, err1 := strconv.Atoi(off[1:3])
		mm, err2 := strconv.Atoi(off[3:5])
		if err1 != nil || err2 != nil {
			return time.Time{}, fmt.Errorf("invalid offset %q", off)
		}
		secs := hh*3600 + mm*60
		if off[0] == '-' {
			secs = -secs
		}
		body, loc = s[:i], time.FixedZone(off, secs)
	}
	body, frac := splitFraction(body)
	layout, ok := dateTimeLayouts[len(body)]
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date time %q", s)
	}
	t, err := time.ParseInLocation(layout, body, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(time.Duration(frac)).UTC(), nil
}

// splitFraction separates ".FFFFFF" and returns it in nanoseconds.
func splitFraction(s string) (string, int) {
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return s, 0
	}
	digits := s[i+1:]
	if len(digits) > 9 {
		digits = digits[:9]
	}
	n, err := strconv.Atoi(digits + strings.Repeat("0", 9-len(digits)))
	if err != nil {
		return s[:i], 0
	}
	return s[:i], n
}
