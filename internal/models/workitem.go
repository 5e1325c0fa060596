package models

import (
	"fmt"
	"time"
)

// DICOM attribute tags used by UPS-RS, as 8-digit hex keys of the DICOM JSON model
const (
	TagAffectedSOPInstanceUID   = "00001000"
	TagEventTypeID              = "00001002"
	TagSOPInstanceUID           = "00080018"
	TagTransactionUID           = "00081195"
	TagProcedureStepDescription = "00400007"
	TagWorkitemType             = "00404000"
	TagScheduledStartDateTime   = "00404005"
	TagScheduledEndDateTime     = "00404011"
	TagInputReadinessState      = "00404041"
	TagProcedureStepState       = "00741000"
	TagContactDisplayName       = "0074100E"
	TagContactURI               = "0074100F"
	TagProcedureStepLabel       = "00741204"
	TagReasonForCancellation    = "00741238"
)

// Well-known UIDs addressing worklist-wide subscriptions
const (
	GlobalSubscriptionUID   = "1.2.840.10008.5.1.4.34.5"
	FilteredSubscriptionUID = "1.2.840.10008.5.1.4.34.5.1"
)

// dateTimeLayout is the DT value representation without fractional seconds or offset
const dateTimeLayout = "20060102150405"

// Attribute is one element of a DICOM JSON dataset
type Attribute struct {
	VR           string        `json:"vr"`
	Value        []interface{} `json:"Value,omitempty"`
	InlineBinary string        `json:"InlineBinary,omitempty"`
}

// Dataset is a DICOM JSON object keyed by 8-hex-digit tag
type Dataset map[string]Attribute

// NewAttribute builds an attribute with the given VR and values
func NewAttribute(vr string, values ...interface{}) Attribute {
	return Attribute{VR: vr, Value: values}
}

// Set stores an attribute under tag
func (d Dataset) Set(tag, vr string, values ...interface{}) {
	d[tag] = NewAttribute(vr, values...)
}

// FirstString returns the first value of tag rendered as a string
func (d Dataset) FirstString(tag string) (string, bool) {
	attr, ok := d[tag]
	if !ok || len(attr.Value) == 0 {
		return "", false
	}
	switch v := attr.Value[0].(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// UPSState is the Procedure Step State of a workitem
type UPSState string

const (
	StateScheduled  UPSState = "SCHEDULED"
	StateInProgress UPSState = "IN PROGRESS"
	StateCanceled   UPSState = "CANCELED"
	StateCompleted  UPSState = "COMPLETED"
)

func (s UPSState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible
func (s UPSState) IsTerminal() bool {
	return s == StateCompleted || s == StateCanceled
}

// RequiresTransactionUID reports whether entering s needs the caller's transaction UID
func (s UPSState) RequiresTransactionUID() bool {
	return s.IsTerminal()
}

// InputReadinessState is the Input Readiness State of a workitem
type InputReadinessState string

const (
	ReadinessReady       InputReadinessState = "READY"
	ReadinessUnavailable InputReadinessState = "UNAVAILABLE"
	ReadinessIncomplete  InputReadinessState = "INCOMPLETE"
)

func (s InputReadinessState) String() string {
	return string(s)
}

// DefaultWorkitem synthesizes a minimal SCHEDULED workitem starting an hour
// after now and ending three hours after now.
func DefaultWorkitem(now time.Time) Dataset {
	ds := Dataset{}
	ds.Set(TagProcedureStepState, "CS", StateScheduled.String())
	ds.Set(TagInputReadinessState, "CS", ReadinessReady.String())
	ds.Set(TagScheduledStartDateTime, "DT", now.Add(1*time.Hour).Format(dateTimeLayout))
	ds.Set(TagScheduledEndDateTime, "DT", now.Add(3*time.Hour).Format(dateTimeLayout))
	ds.Set(TagProcedureStepLabel, "LO", "Example Procedure")
	ds.Set(TagWorkitemType, "CS", "IMAGE_PROCESSING")
	ds.Set(TagProcedureStepDescription, "LO", "Example procedure step description")
	return ds
}

// TagName returns a human-readable name for the tags the client deals with
func TagName(tag string) string {
	switch tag {
	case TagSOPInstanceUID:
		return "SOP Instance UID"
	case TagProcedureStepState:
		return "Procedure Step State"
	case TagInputReadinessState:
		return "Input Readiness State"
	case TagScheduledStartDateTime:
		return "Scheduled Start"
	case TagProcedureStepLabel:
		return "Procedure Label"
	case TagProcedureStepDescription:
		return "Procedure Description"
	case TagTransactionUID:
		return "Transaction UID"
	default:
		return ""
	}
}
