package dcmcodec

import (
	"path/filepath"
	"testing"

	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func mustElement(t *testing.T, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, data)
	if err != nil {
		t.Fatalf("NewElement(%v) failed: %v", tg, err)
	}
	return elem
}

func TestToDataset(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustElement(t, tag.SOPInstanceUID, []string{"1.2.3.4"}),
		mustElement(t, tag.PatientName, []string{"Doe^Jane"}),
		mustElement(t, tag.Rows, []int{512}),
	}}

	got, err := ToDataset(ds)
	if err != nil {
		t.Fatalf("ToDataset failed: %v", err)
	}

	if _, ok := got["00020010"]; ok {
		t.Fatal("file meta elements must be dropped")
	}
	if uid, _ := got.FirstString(models.TagSOPInstanceUID); uid != "1.2.3.4" {
		t.Fatalf("unexpected SOP Instance UID %q", uid)
	}

	name := got["00100010"]
	if name.VR != "PN" || len(name.Value) != 1 {
		t.Fatalf("unexpected patient name %+v", name)
	}
	pn, _ := name.Value[0].(map[string]interface{})
	if pn["Alphabetic"] != "Doe^Jane" {
		t.Fatalf("expected PN object, got %v", name.Value[0])
	}

	rows := got["00280010"]
	if rows.VR != "US" || rows.Value[0] != 512 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestStringValue(t *testing.T) {
	if v := stringValue("IS", "42 "); v != 42 {
		t.Fatalf("IS: got %v", v)
	}
	if v := stringValue("DS", "1.5"); v != 1.5 {
		t.Fatalf("DS: got %v", v)
	}
	if v := stringValue("LO", "label "); v != "label" {
		t.Fatalf("LO: got %v", v)
	}
	if v := stringValue("IS", "x"); v != "x" {
		t.Fatalf("unparseable IS should stay a string, got %v", v)
	}
}

func TestTagKey(t *testing.T) {
	if got := TagKey(tag.Tag{Group: 0x0074, Element: 0x1000}); got != models.TagProcedureStepState {
		t.Fatalf("TagKey = %s", got)
	}
}

func TestSetSOPInstanceUID(t *testing.T) {
	ds := models.Dataset{}
	SetSOPInstanceUID(ds, "2.25.7")
	if uid, _ := ds.FirstString(models.TagSOPInstanceUID); uid != "2.25.7" {
		t.Fatalf("unexpected UID %q", uid)
	}
}

func TestLoadWorkitemMissingFile(t *testing.T) {
	if _, err := LoadWorkitem(filepath.Join(t.TempDir(), "missing.dcm")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
