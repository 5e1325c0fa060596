package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	summaryWidth = 30
	summaryRule  = "--------------------------------------------------------------------------------"
)

var defaultSummaryFields = []string{
	models.TagSOPInstanceUID,
	models.TagProcedureStepState,
	models.TagInputReadinessState,
	models.TagProcedureStepLabel,
}

// matchFlag collects repeated tag=value arguments. Malformed entries are
// reported and skipped.
type matchFlag struct {
	values map[string]string
}

func newMatchFlag() *matchFlag {
	return &matchFlag{values: map[string]string{}}
}

func (m *matchFlag) String() string {
	if m == nil {
		return ""
	}
	parts := make([]string, 0, len(m.values))
	for _, k := range sortedKeys(m.values) {
		parts = append(parts, k+"="+m.values[k])
	}
	return strings.Join(parts, ",")
}

func (m *matchFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		log.Warn().Str("value", s).Msg("Ignoring invalid match parameter, expected key=value")
		return nil
	}
	m.values[key] = value
	return nil
}

// listFlag collects repeated or comma separated values
type listFlag struct {
	values []string
}

func newListFlag() *listFlag {
	return &listFlag{}
}

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(l.values, ",")
}

func (l *listFlag) Set(s string) error {
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			l.values = append(l.values, v)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *app) printJSON(v interface{}) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(a.out, "%v\n", v)
		return
	}
	fmt.Fprintln(a.out, string(raw))
}

// writeSummary prints one row per workitem with the given attribute tags
func writeSummary(w io.Writer, items []interface{}, fields []string) {
	if len(fields) == 0 {
		fields = defaultSummaryFields
	}

	header := make([]string, len(fields))
	for i, tag := range fields {
		name := models.TagName(tag)
		if name == "" {
			name = tag
		}
		header[i] = fmt.Sprintf("%-*s", summaryWidth, truncate(name))
	}

	fmt.Fprintln(w, summaryRule)
	fmt.Fprintln(w, strings.TrimRight(strings.Join(header, " "), " "))
	fmt.Fprintln(w, summaryRule)

	for _, item := range items {
		obj, _ := item.(map[string]interface{})
		row := make([]string, len(fields))
		for i, tag := range fields {
			row[i] = fmt.Sprintf("%-*s", summaryWidth, truncate(attributeValue(obj, tag)))
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(row, " "), " "))
	}
	fmt.Fprintln(w, summaryRule)
}

// attributeValue returns the first value of tag in a DICOM JSON object
func attributeValue(obj map[string]interface{}, tag string) string {
	attr, ok := obj[tag].(map[string]interface{})
	if !ok {
		return "N/A"
	}
	values, ok := attr["Value"].([]interface{})
	if !ok || len(values) == 0 || values[0] == nil {
		return "N/A"
	}
	switch v := values[0].(type) {
	case string:
		return v
	case map[string]interface{}:
		if name, ok := v["Alphabetic"].(string); ok {
			return name
		}
		return "N/A"
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string) string {
	if len(s) > summaryWidth {
		return s[:summaryWidth-3] + "..."
	}
	return s
}
