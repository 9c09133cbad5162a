package dicom

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// jsonElement is one attribute in the DICOM JSON model (PS3.18 F.2).
type jsonElement struct {
	VR           string            `json:"vr"`
	Value        []json.RawMessage `json:"Value,omitempty"`
	InlineBinary string            `json:"InlineBinary,omitempty"`
}

type jsonPersonName struct {
	Alphabetic  string `json:"Alphabetic,omitempty"`
	Ideographic string `json:"Ideographic,omitempty"`
	Phonetic    string `json:"Phonetic,omitempty"`
}

// ParseJSON decodes the top level of a DICOM JSON object into a Dataset.
// Sequences, bulk data URIs and unknown VRs are skipped.
func ParseJSON(data []byte) (*Dataset, error) {
	var raw map[string]jsonElement
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dicom json: %w", err)
	}

	ds := NewDataset()
	for key, je := range raw {
		tag, err := ParsePath(strings.ToUpper(key))
		if err != nil {
			return nil, fmt.Errorf("decode dicom json: %w", err)
		}
		vr, err := ParseVR(je.VR)
		if err != nil {
			return nil, fmt.Errorf("decode dicom json %s: %w", tag, err)
		}
		if vr == SQ || vr == UN || vr == OB || vr == OW || vr == OD || vr == OF || vr == OL || vr == OV {
			continue
		}

		elem, err := decodeElement(tag, vr, je)
		if err != nil {
			return nil, fmt.Errorf("decode dicom json %s: %w", tag, err)
		}
		ds.Add(elem)
	}
	return ds, nil
}

func decodeElement(tag Tag, vr VR, je jsonElement) (Element, error) {
	if vr.IsBinary() {
		if je.InlineBinary != "" {
			buf, err := base64.StdEncoding.DecodeString(je.InlineBinary)
			if err != nil {
				return Element{}, fmt.Errorf("inline binary: %w", err)
			}
			return NewBinaryElement(tag, vr, buf), nil
		}
		buf := make([]byte, 0, len(je.Value)*vr.FixedSize())
		for _, v := range je.Value {
			b, err := encodeBinary(vr, v)
			if err != nil {
				return Element{}, err
			}
			buf = append(buf, b...)
		}
		return NewBinaryElement(tag, vr, buf), nil
	}

	values := make([]string, 0, len(je.Value))
	for _, v := range je.Value {
		if vr == PN {
			s, err := decodePersonName(v)
			if err != nil {
				return Element{}, err
			}
			values = append(values, s)
			continue
		}
		s, err := decodeString(v)
		if err != nil {
			return Element{}, err
		}
		values = append(values, s)
	}
	return NewStringElement(tag, vr, values...), nil
}

func decodeString(v json.RawMessage) (string, error) {
	if string(v) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", fmt.Errorf("value %s is neither string nor number", string(v))
	}
	return n.String(), nil
}

func decodePersonName(v json.RawMessage) (string, error) {
	if string(v) == "null" {
		return "", nil
	}
	var pn jsonPersonName
	if err := json.Unmarshal(v, &pn); err != nil {
		return "", fmt.Errorf("person name: %w", err)
	}
	groups := []string{pn.Alphabetic, pn.Ideographic, pn.Phonetic}
	for len(groups) > 1 && groups[len(groups)-1] == "" {
		groups = groups[:len(groups)-1]
	}
	return strings.Join(groups, "="), nil
}

func encodeBinary(vr VR, v json.RawMessage) ([]byte, error) {
	buf := make([]byte, vr.FixedSize())
	if vr == AT {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("attribute tag value: %w", err)
		}
		t, err := ParsePath(strings.ToUpper(s))
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint16(buf[0:], t.Group)
		binary.LittleEndian.PutUint16(buf[2:], t.Element)
		return buf, nil
	}

	s, err := decodeString(v)
	if err != nil {
		return nil, err
	}
	switch vr {
	case FL:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, fmt.Errorf("FL value %q: %w", s, err)
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
	case FD:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("FD value %q: %w", s, err)
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	case SS:
		n, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("SS value %q: %w", s, err)
		}
		binary.LittleEndian.PutUint16(buf, uint16(int16(n)))
	case US:
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("US value %q: %w", s, err)
		}
		binary.LittleEndian.PutUint16(buf, uint16(n))
	case SL:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("SL value %q: %w", s, err)
		}
		binary.LittleEndian.PutUint32(buf, uint32(int32(n)))
	case UL:
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("UL value %q: %w", s, err)
		}
		binary.LittleEndian.PutUint32(buf, uint32(n))
	case SV:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("SV value %q: %w", s, err)
		}
		binary.LittleEndian.PutUint64(buf, uint64(n))
	case UV:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("UV value %q: %w", s, err)
		}
		binary.LittleEndian.PutUint64(buf, n)
	default:
		return nil, fmt.Errorf("no binary encoding for %s", vr)
	}
	return buf, nil
}
