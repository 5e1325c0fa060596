package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/otcheredev/ris-ups-client/internal/dcmcodec"
	"github.com/otcheredev/ris-ups-client/internal/dicomuid"
	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/otcheredev/ris-ups-client/internal/upsrs"
	"github.com/rs/zerolog/log"
)

func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

// fail prints the diagnostic of a failed result and returns the exit code
func (a *app) fail(res upsrs.Result) int {
	fmt.Fprintf(a.errOut, "Error: %s\n", res.Err.Message)
	return 1
}

func (a *app) runCreate(ctx context.Context, args []string) int {
	fs := a.newFlagSet("create")
	workitemUID := fs.String("workitem-uid", "", "UID for the new workitem (generated when omitted)")
	inputFile := fs.String("input-file", "", "JSON file with the workitem data set")
	inputDCM := fs.String("input-dcm", "", "DICOM file with the workitem data set")
	dcmJSONOut := fs.String("dcm-json-out", "", "write the data set converted from -input-dcm to this JSON file")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *inputFile != "" && *inputDCM != "" {
		fmt.Fprintln(a.errOut, "Error: -input-file and -input-dcm are mutually exclusive")
		return 1
	}

	uid := *workitemUID
	var data models.Dataset

	switch {
	case *inputFile != "":
		ds, err := readDatasetFile(*inputFile)
		if err != nil {
			fmt.Fprintf(a.errOut, "Error loading input file: %v\n", err)
			return 1
		}
		data = ds

	case *inputDCM != "":
		ds, err := dcmcodec.LoadWorkitem(*inputDCM)
		if err != nil {
			fmt.Fprintf(a.errOut, "Error loading DICOM file: %v\n", err)
			return 1
		}
		if uid == "" {
			if sop, ok := ds.FirstString(models.TagSOPInstanceUID); ok {
				uid = sop
			}
		} else {
			dcmcodec.SetSOPInstanceUID(ds, uid)
		}
		if *dcmJSONOut != "" {
			if err := writeJSONFile(*dcmJSONOut, ds); err != nil {
				fmt.Fprintf(a.errOut, "Error writing converted data set: %v\n", err)
				return 1
			}
			log.Info().Str("path", *dcmJSONOut).Msg("Saved converted data set")
		}
		data = ds
	}

	if uid == "" {
		uid = dicomuid.Generate()
		log.Info().Str("workitem_uid", uid).Msg("Generated workitem UID")
	}

	res := a.client.CreateWorkitem(ctx, data, uid)
	if !res.OK() {
		return a.fail(res)
	}

	fmt.Fprintln(a.out, "Workitem created successfully")
	a.printJSON(res.Payload)
	fmt.Fprintf(a.out, "Workitem UID: %s\n", uid)
	return 0
}

func (a *app) runRetrieve(ctx context.Context, args []string) int {
	fs := a.newFlagSet("retrieve")
	workitemUID := fs.String("workitem-uid", "", "UID of the workitem to retrieve (required)")
	outputFile := fs.String("output-file", "", "write the workitem JSON to this file")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *workitemUID == "" {
		fmt.Fprintln(a.errOut, "Error: -workitem-uid is required")
		return 1
	}

	res := a.client.RetrieveWorkitem(ctx, *workitemUID)
	if !res.OK() {
		return a.fail(res)
	}

	fmt.Fprintln(a.out, "Workitem retrieved successfully")
	a.printJSON(res.Payload)

	if *outputFile != "" {
		if err := writeJSONFile(*outputFile, res.Payload); err != nil {
			fmt.Fprintf(a.errOut, "Error writing output file: %v\n", err)
			return 1
		}
		fmt.Fprintf(a.out, "Workitem saved to %s\n", *outputFile)
	}
	return 0
}

func (a *app) runSearch(ctx context.Context, args []string) int {
	fs := a.newFlagSet("search")
	match := newMatchFlag()
	fs.Var(match, "match", "match parameter as tag=value (repeatable)")
	state := fs.String("state", "", "procedure step state (SCHEDULED, IN PROGRESS, COMPLETED, CANCELED)")
	readiness := fs.String("readiness", "", "input readiness state (READY, UNAVAILABLE, INCOMPLETE)")
	startDate := fs.String("start-date", "", "scheduled start date or range (YYYYMMDD or YYYYMMDD-YYYYMMDD)")
	label := fs.String("label", "", "procedure step label")
	include := newListFlag()
	fs.Var(include, "includefield", "additional attribute to return (repeatable)")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching")
	offset := fs.Int("offset", 0, "number of results to skip")
	limit := fs.Int("limit", 0, "maximum number of results")
	noCache := fs.Bool("no-cache", false, "ask intermediaries not to serve cached results")
	summary := fs.Bool("summary", false, "print a table instead of the full JSON")
	display := newListFlag()
	fs.Var(display, "display-fields", "tags shown by -summary (repeatable or comma separated)")
	outputFile := fs.String("output-file", "", "write the results JSON to this file")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	params := match.values
	if *state != "" {
		s := strings.ToUpper(strings.ReplaceAll(*state, "_", " "))
		if !oneOf(s, "SCHEDULED", "IN PROGRESS", "COMPLETED", "CANCELED") {
			fmt.Fprintf(a.errOut, "Error: invalid state %q\n", *state)
			return 1
		}
		params[models.TagProcedureStepState] = s
	}
	if *readiness != "" {
		r := strings.ToUpper(*readiness)
		if !oneOf(r, "READY", "UNAVAILABLE", "INCOMPLETE") {
			fmt.Fprintf(a.errOut, "Error: invalid readiness %q\n", *readiness)
			return 1
		}
		params[models.TagInputReadinessState] = r
	}
	if *startDate != "" {
		params[models.TagScheduledStartDateTime] = *startDate
	}
	if *label != "" {
		params[models.TagProcedureStepLabel] = *label
	}

	if len(params) > 0 {
		fmt.Fprintln(a.out, "Search criteria:")
		for _, k := range sortedKeys(params) {
			fmt.Fprintf(a.out, "  %s: %s\n", k, params[k])
		}
	}

	res := a.client.SearchWorkitems(ctx, upsrs.SearchParams{
		Match:         params,
		IncludeFields: include.values,
		Fuzzy:         *fuzzy,
		Offset:        *offset,
		Limit:         *limit,
		NoCache:       *noCache,
	})
	if !res.OK() {
		return a.fail(res)
	}

	items := res.List()
	if len(items) == 0 {
		fmt.Fprintln(a.out, "No matching workitems found")
		return 0
	}

	fmt.Fprintf(a.out, "Search returned %d result(s)\n", len(items))
	if *summary {
		writeSummary(a.out, items, display.values)
	} else {
		a.printJSON(items)
	}

	if *outputFile != "" {
		if err := writeJSONFile(*outputFile, items); err != nil {
			fmt.Fprintf(a.errOut, "Error writing output file: %v\n", err)
			return 1
		}
		fmt.Fprintf(a.out, "Results saved to %s\n", *outputFile)
	}
	return 0
}

func (a *app) runUpdate(ctx context.Context, args []string) int {
	fs := a.newFlagSet("update")
	workitemUID := fs.String("workitem-uid", "", "UID of the workitem to update (required)")
	transactionUID := fs.String("transaction-uid", "", "transaction UID (required unless the workitem is SCHEDULED)")
	inputFile := fs.String("input-file", "", "JSON file with the attributes to update")
	procLabel := fs.String("procedure-label", "", "new procedure step label")
	procDesc := fs.String("procedure-description", "", "new procedure step description")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *workitemUID == "" {
		fmt.Fprintln(a.errOut, "Error: -workitem-uid is required")
		return 1
	}

	data := models.Dataset{}
	if *inputFile != "" {
		ds, err := readDatasetFile(*inputFile)
		if err != nil {
			fmt.Fprintf(a.errOut, "Error loading input file: %v\n", err)
			return 1
		}
		data = ds
	}
	if *procLabel != "" {
		data.Set(models.TagProcedureStepLabel, "LO", *procLabel)
	}
	if *procDesc != "" {
		data.Set(models.TagProcedureStepDescription, "LO", *procDesc)
	}
	if len(data) == 0 {
		fmt.Fprintln(a.errOut, "Error: no update data provided")
		return 1
	}

	if *transactionUID == "" {
		fmt.Fprintln(a.out, "Transaction UID not provided, only valid if UPS is SCHEDULED")
	}

	res := a.client.UpdateWorkitem(ctx, *workitemUID, *transactionUID, data)
	if !res.OK() {
		return a.fail(res)
	}

	fmt.Fprintln(a.out, "Workitem updated successfully")
	a.printJSON(res.Payload)
	return 0
}

func (a *app) runChangeState(ctx context.Context, args []string) int {
	fs := a.newFlagSet("change-state")
	workitemUID := fs.String("workitem-uid", "", "UID of the workitem (required)")
	stateFlag := fs.String("state", "", "new state: IN PROGRESS, COMPLETED or CANCELED (required)")
	transactionUID := fs.String("transaction-uid", "", "transaction UID (required for COMPLETED and CANCELED)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *workitemUID == "" || *stateFlag == "" {
		fmt.Fprintln(a.errOut, "Error: -workitem-uid and -state are required")
		return 1
	}

	state, err := upsrs.ParseState(*stateFlag)
	if err != nil {
		fmt.Fprintf(a.errOut, "Error: %v\n", err)
		return 1
	}

	res := a.client.ChangeState(ctx, *workitemUID, state, *transactionUID)
	if !res.OK() {
		return a.fail(res)
	}

	fmt.Fprintf(a.out, "Workitem state changed to %s\n", state)
	a.printJSON(res.Payload)
	if txn := res.String("transaction_uid"); txn != "" {
		fmt.Fprintf(a.out, "Transaction UID: %s\n", txn)
		fmt.Fprintln(a.out, "Keep this UID for future state changes to this workitem")
	}
	return 0
}

func (a *app) runRequestCancel(ctx context.Context, args []string) int {
	fs := a.newFlagSet("request-cancel")
	workitemUID := fs.String("workitem-uid", "", "UID of the workitem (required)")
	reason := fs.String("reason", "", "reason for cancellation")
	contactName := fs.String("contact-name", "", "name of the person to contact")
	contactURI := fs.String("contact-uri", "", "URI for contacting the requester")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *workitemUID == "" {
		fmt.Fprintln(a.errOut, "Error: -workitem-uid is required")
		return 1
	}

	res := a.client.RequestCancellation(ctx, *workitemUID, upsrs.CancellationRequest{
		Reason:      *reason,
		ContactName: *contactName,
		ContactURI:  *contactURI,
	})
	if !res.OK() {
		return a.fail(res)
	}

	fmt.Fprintln(a.out, "Cancellation request submitted successfully")
	a.printJSON(res.Payload)
	fmt.Fprintln(a.out, "Note: the performer of the workitem is not obliged to honor the request")
	return 0
}

func readDatasetFile(path string) (models.Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ds models.Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func writeJSONFile(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
