// Package dcmcodec converts DICOM Part-10 files into DICOM JSON workitem datasets.
package dcmcodec

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// LoadWorkitem reads a DICOM file, without pixel data, as a workitem dataset
func LoadWorkitem(path string) (models.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat file: %w", err)
	}

	ds, err := dicom.Parse(file, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}

	return ToDataset(ds)
}

// ToDataset converts a parsed dataset into the DICOM JSON model. File meta
// elements (group 0002) and pixel data are left out.
func ToDataset(ds dicom.Dataset) (models.Dataset, error) {
	return convertElements(ds.Elements)
}

func convertElements(elems []*dicom.Element) (models.Dataset, error) {
	out := models.Dataset{}
	for _, elem := range elems {
		if elem == nil || elem.Tag.Group == 0x0002 || elem.Tag == tag.PixelData {
			continue
		}
		attr, err := convertElement(elem)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", TagKey(elem.Tag), err)
		}
		out[TagKey(elem.Tag)] = attr
	}
	return out, nil
}

func convertElement(elem *dicom.Element) (models.Attribute, error) {
	vr := elem.RawValueRepresentation
	attr := models.Attribute{VR: vr}
	if elem.Value == nil {
		return attr, nil
	}

	switch elem.Value.ValueType() {
	case dicom.Strings:
		values, _ := elem.Value.GetValue().([]string)
		for _, s := range values {
			attr.Value = append(attr.Value, stringValue(vr, s))
		}
	case dicom.Ints:
		values, _ := elem.Value.GetValue().([]int)
		for _, n := range values {
			attr.Value = append(attr.Value, n)
		}
	case dicom.Floats:
		values, _ := elem.Value.GetValue().([]float64)
		for _, f := range values {
			attr.Value = append(attr.Value, f)
		}
	case dicom.Bytes:
		raw, _ := elem.Value.GetValue().([]byte)
		if len(raw) > 0 {
			attr.InlineBinary = base64.StdEncoding.EncodeToString(raw)
		}
	case dicom.Sequences:
		items, _ := elem.Value.GetValue().([]*dicom.SequenceItemValue)
		for _, item := range items {
			nested, _ := item.GetValue().([]*dicom.Element)
			sub, err := convertElements(nested)
			if err != nil {
				return attr, err
			}
			attr.Value = append(attr.Value, sub)
		}
	}
	return attr, nil
}

// stringValue shapes one string according to its VR: person names become
// objects and numeric strings become numbers
func stringValue(vr, s string) interface{} {
	s = strings.TrimRight(s, " \x00")
	switch vr {
	case "PN":
		return map[string]interface{}{"Alphabetic": s}
	case "IS":
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	case "DS":
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return s
}

// TagKey renders a tag as the 8-hex-digit key of the DICOM JSON model
func TagKey(t tag.Tag) string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// SetSOPInstanceUID aligns the dataset's SOP Instance UID with a workitem UID
func SetSOPInstanceUID(ds models.Dataset, uid string) {
	ds.Set(models.TagSOPInstanceUID, "UI", uid)
}
