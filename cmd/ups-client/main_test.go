package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("UPS_BASE_URL", "")
	t.Setenv("UPS_AE_TITLE", "")
	t.Setenv("OTEL_EXPORTER", "none")
	t.Setenv("AUDIT_ENABLED", "false")
	t.Setenv("LOG_FORMAT", "json")
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunCreate(t *testing.T) {
	setTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/workitems" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("workitem"); got != "1.2.3" {
			t.Errorf("expected workitem=1.2.3, got %q", got)
		}
		w.Header().Set("Content-Location", "/workitems/1.2.3")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	code, out, errOut := runCLI(t, "-server", srv.URL, "-retry-delay-ms", "1", "create", "-workitem-uid", "1.2.3")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Workitem created successfully") || !strings.Contains(out, "Workitem UID: 1.2.3") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRunSearchSummary(t *testing.T) {
	setTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("00741000"); got != "IN PROGRESS" {
			t.Errorf("expected state match, got %q", got)
		}
		w.Header().Set("Content-Type", "application/dicom+json")
		w.Write([]byte(`[
			{"00080018": {"vr": "UI", "Value": ["1.2.3"]}, "00741204": {"vr": "LO", "Value": ["A very long procedure step label indeed"]}},
			{"00080018": {"vr": "UI", "Value": ["1.2.4"]}}
		]`))
	}))
	defer srv.Close()

	code, out, errOut := runCLI(t, "-server", srv.URL, "search", "-state", "in_progress", "-summary")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	for _, want := range []string{
		"Search criteria:",
		"00741000: IN PROGRESS",
		"Search returned 2 result(s)",
		"A very long procedure step ...",
		"N/A",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunSearchNoResults(t *testing.T) {
	setTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	code, out, _ := runCLI(t, "-server", srv.URL, "search")
	if code != 0 || !strings.Contains(out, "No matching workitems found") {
		t.Fatalf("unexpected result %d:\n%s", code, out)
	}
}

func TestRunChangeStateRequiresTransactionUID(t *testing.T) {
	setTestEnv(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	code, _, errOut := runCLI(t, "-server", srv.URL, "change-state", "-workitem-uid", "1.2.3", "-state", "COMPLETED")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut, "Transaction UID") {
		t.Fatalf("expected transaction UID diagnostic, got:\n%s", errOut)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("expected no request to be sent")
	}
}

func TestRunUpdateWithoutData(t *testing.T) {
	setTestEnv(t)

	code, _, errOut := runCLI(t, "-server", "http://localhost:1", "update", "-workitem-uid", "1.2.3")
	if code != 1 || !strings.Contains(errOut, "no update data provided") {
		t.Fatalf("unexpected result %d:\n%s", code, errOut)
	}
}

func TestRunSubscribeRequiresAETitle(t *testing.T) {
	setTestEnv(t)

	code, _, errOut := runCLI(t, "-server", "http://localhost:1", "subscribe", "-worklist")
	if code != 1 || !strings.Contains(errOut, "-aetitle is required") {
		t.Fatalf("unexpected result %d:\n%s", code, errOut)
	}
}

func TestRunSubscribeWorklist(t *testing.T) {
	setTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workitems/1.2.840.10008.5.1.4.34.5/subscribers/MY_AE" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Location", "ws://example.test/ws/MY_AE")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	code, out, errOut := runCLI(t, "-server", srv.URL, "-aetitle", "MY_AE", "subscribe", "-worklist")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Successfully subscribed to worklist") || !strings.Contains(out, "WebSocket URL: ws://example.test/ws/MY_AE") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRunUsageErrors(t *testing.T) {
	setTestEnv(t)

	if code, _, _ := runCLI(t, "create"); code != 1 {
		t.Errorf("missing server: expected exit 1, got %d", code)
	}
	if code, _, _ := runCLI(t, "-server", "http://localhost:1", "bogus"); code != 1 {
		t.Errorf("unknown command: expected exit 1, got %d", code)
	}
	if code, _, _ := runCLI(t, "-server", "http://localhost:1"); code != 1 {
		t.Errorf("no command: expected exit 1, got %d", code)
	}
}

func TestSubscriptionFlags(t *testing.T) {
	filter := newMatchFlag()

	if _, _, err := (subscriptionFlags{worklist: true, workitemUID: "1.2", filter: filter}).subscription(); err == nil {
		t.Error("expected error for two scopes")
	}
	if _, _, err := (subscriptionFlags{filter: filter}).subscription(); err == nil {
		t.Error("expected error for no scope")
	}
	if _, _, err := (subscriptionFlags{filteredWorklist: true, filter: filter}).subscription(); err == nil {
		t.Error("expected error for filtered worklist without filter")
	}

	filter.Set("00404041=READY")
	sub, target, err := (subscriptionFlags{filteredWorklist: true, filter: filter, deletionLock: true}).subscription()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != "filtered worklist" || sub.Filter["00404041"] != "READY" || !sub.DeletionLock {
		t.Fatalf("unexpected subscription %+v (%s)", sub, target)
	}
}

func TestMatchFlagSkipsMalformed(t *testing.T) {
	m := newMatchFlag()
	for _, v := range []string{"00741000=SCHEDULED", "garbage", "=x", "00404041=READY"} {
		if err := m.Set(v); err != nil {
			t.Fatalf("Set(%q) returned %v", v, err)
		}
	}
	if got := m.String(); got != "00404041=READY,00741000=SCHEDULED" {
		t.Fatalf("unexpected values %q", got)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	items := []interface{}{
		map[string]interface{}{
			"00080018": map[string]interface{}{"vr": "UI", "Value": []interface{}{"1.2.3"}},
			"00741000": map[string]interface{}{"vr": "CS", "Value": []interface{}{"SCHEDULED"}},
		},
	}
	writeSummary(&buf, items, nil)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), buf.String())
	}
	if lines[0] != summaryRule || lines[2] != summaryRule || lines[4] != summaryRule {
		t.Fatalf("expected rules around header and rows:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[1], "SOP Instance UID") {
		t.Errorf("unexpected header %q", lines[1])
	}
	row := lines[3]
	if !strings.HasPrefix(row, "1.2.3") || !strings.Contains(row, "SCHEDULED") || !strings.Contains(row, "N/A") {
		t.Errorf("unexpected row %q", row)
	}
}
