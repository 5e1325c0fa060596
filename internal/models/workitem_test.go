package models

import (
	"testing"
	"time"
)

func TestDefaultWorkitem(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	ds := DefaultWorkitem(now)

	checks := []struct {
		tag, vr, value string
	}{
		{TagProcedureStepState, "CS", "SCHEDULED"},
		{TagInputReadinessState, "CS", "READY"},
		{TagScheduledStartDateTime, "DT", "20250314103000"},
		{TagScheduledEndDateTime, "DT", "20250314123000"},
		{TagProcedureStepLabel, "LO", "Example Procedure"},
		{TagWorkitemType, "CS", "IMAGE_PROCESSING"},
		{TagProcedureStepDescription, "LO", "Example procedure step description"},
	}
	for _, c := range checks {
		attr, ok := ds[c.tag]
		if !ok {
			t.Fatalf("missing tag %s", c.tag)
		}
		if attr.VR != c.vr {
			t.Errorf("tag %s: vr = %s, want %s", c.tag, attr.VR, c.vr)
		}
		if got, _ := ds.FirstString(c.tag); got != c.value {
			t.Errorf("tag %s: value = %q, want %q", c.tag, got, c.value)
		}
	}
}

func TestUPSStateTerminal(t *testing.T) {
	if StateScheduled.IsTerminal() || StateInProgress.IsTerminal() {
		t.Fatal("non-terminal states reported terminal")
	}
	if !StateCompleted.RequiresTransactionUID() || !StateCanceled.RequiresTransactionUID() {
		t.Fatal("terminal states must require a transaction uid")
	}
	if StateInProgress.String() != "IN PROGRESS" {
		t.Fatalf("unexpected IN PROGRESS rendering %q", StateInProgress.String())
	}
}

func TestParseEvent(t *testing.T) {
	raw := []byte(`{"00001000":{"vr":"UI","Value":["1.2.3.4"]},"00001002":{"vr":"US","Value":[1]}}`)
	ev, err := ParseEvent(raw, time.Now())
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if got := ev.AffectedSOPInstanceUID(); got != "1.2.3.4" {
		t.Errorf("affected uid = %q", got)
	}
	if got := ev.EventTypeID(); got != "1" {
		t.Errorf("event type = %q", got)
	}

	ev, err = ParseEvent([]byte(`{}`), time.Now())
	if err != nil {
		t.Fatalf("ParseEvent empty: %v", err)
	}
	if ev.EventTypeID() != "Unknown" || ev.AffectedSOPInstanceUID() != "Unknown" {
		t.Error("missing tags should render Unknown")
	}

	if _, err := ParseEvent([]byte(`not json`), time.Now()); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseEvent([]byte(`null`), time.Now()); err == nil {
		t.Error("expected error for null payload")
	}
}
