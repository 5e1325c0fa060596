package upsrs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/otcheredev/ris-ups-client/internal/dicomuid"
	"github.com/otcheredev/ris-ups-client/internal/models"
)

// SearchParams describes a workitem query
type SearchParams struct {
	// Match maps attribute tags or keywords to match values
	Match         map[string]string
	IncludeFields []string
	Fuzzy         bool
	Offset        int
	// Limit is omitted from the query when zero
	Limit   int
	NoCache bool
}

// CancellationRequest carries the optional fields of a cancel request. Empty
// fields are left out of the payload.
type CancellationRequest struct {
	Reason      string
	ContactName string
	ContactURI  string
}

func (c *Client) workitemsURL() string {
	return c.baseURL + "/workitems"
}

func (c *Client) workitemURL(uid string) string {
	return c.workitemsURL() + "/" + uid
}

func invalidUID(what, uid string) Result {
	return failed(validationError(ErrInvalidUID, "Invalid %s: %s", what, uid), 0)
}

// CreateWorkitem creates a workitem. A nil data set is replaced by a minimal
// SCHEDULED workitem; an empty workitemUID lets the server assign one.
func (c *Client) CreateWorkitem(ctx context.Context, data models.Dataset, workitemUID string) Result {
	target := c.workitemsURL()
	if workitemUID != "" {
		if !dicomuid.Validate(workitemUID) {
			return invalidUID("workitem UID", workitemUID)
		}
		target += "?" + url.Values{"workitem": {workitemUID}}.Encode()
	}

	if data == nil {
		data = models.DefaultWorkitem(time.Now())
	}

	return c.engine.Send(ctx, Request{
		Action:        "create",
		Method:        http.MethodPost,
		URL:           target,
		Body:          data,
		SuccessStatus: http.StatusCreated,
		ResourceUID:   workitemUID,
	})
}

// RetrieveWorkitem fetches the current state of a workitem
func (c *Client) RetrieveWorkitem(ctx context.Context, workitemUID string) Result {
	if !dicomuid.Validate(workitemUID) {
		return invalidUID("workitem UID", workitemUID)
	}

	return c.engine.Send(ctx, Request{
		Action:        "retrieve",
		Method:        http.MethodGet,
		URL:           c.workitemURL(workitemUID),
		Header:        http.Header{"Cache-Control": {"no-cache"}},
		SuccessStatus: http.StatusOK,
		ResourceUID:   workitemUID,
	})
}

// SearchWorkitems queries workitems. A 204 response yields an empty list.
func (c *Client) SearchWorkitems(ctx context.Context, params SearchParams) Result {
	req := Request{
		Action:        "search",
		Method:        http.MethodGet,
		URL:           c.workitemsURL() + "?" + searchQuery(params),
		SuccessStatus: http.StatusOK,
	}
	if params.NoCache {
		req.Header = http.Header{"Cache-Control": {"no-cache"}}
	}

	res := c.engine.Send(ctx, req)
	if res.Err != nil {
		return res
	}

	switch res.StatusCode {
	case http.StatusNoContent:
		c.logger.Info().Msg("No workitems found matching the search criteria")
		res.Payload = []interface{}{}
	case http.StatusPartialContent:
		c.logger.Info().Int("count", len(res.List())).Msg("Partial search results returned")
	default:
		if res.List() == nil {
			if m := res.Map(); m != nil {
				// a single object response is one result
				res.Payload = []interface{}{m}
			} else {
				res.Payload = []interface{}{}
			}
		}
	}
	return res
}

func searchQuery(p SearchParams) string {
	q := url.Values{}

	keys := make([]string, 0, len(p.Match))
	for k := range p.Match {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, p.Match[k])
	}

	if len(p.IncludeFields) > 0 {
		q.Set("includefield", strings.Join(p.IncludeFields, ","))
	}
	if p.Fuzzy {
		q.Set("fuzzymatching", "true")
	}
	q.Set("offset", strconv.Itoa(p.Offset))
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q.Encode()
}

// UpdateWorkitem patches workitem attributes. The transaction UID may be
// empty while the workitem is SCHEDULED; the server decides.
func (c *Client) UpdateWorkitem(ctx context.Context, workitemUID, transactionUID string, data models.Dataset) Result {
	if !dicomuid.Validate(workitemUID) {
		return invalidUID("workitem UID", workitemUID)
	}

	target := c.workitemURL(workitemUID)
	if transactionUID != "" {
		if !dicomuid.Validate(transactionUID) {
			return invalidUID("transaction UID", transactionUID)
		}
		target += "?" + url.Values{"transaction-uid": {transactionUID}}.Encode()
	}
	if data == nil {
		data = models.Dataset{}
	}

	return c.engine.Send(ctx, Request{
		Action:        "update",
		Method:        http.MethodPut,
		URL:           target,
		Body:          data,
		SuccessStatus: http.StatusOK,
		ResourceUID:   workitemUID,
	})
}

// ParseState normalizes a target state name. Underscores and case are
// tolerated, so "in_progress" yields IN PROGRESS.
func ParseState(s string) (models.UPSState, error) {
	normalized := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	switch models.UPSState(normalized) {
	case models.StateInProgress, models.StateCompleted, models.StateCanceled:
		return models.UPSState(normalized), nil
	}
	return "", fmt.Errorf("%w: %q, must be one of IN PROGRESS, COMPLETED, CANCELED", ErrInvalidState, s)
}

// ChangeState moves a workitem to state. Entering IN PROGRESS without a
// transaction UID mints one; COMPLETED and CANCELED require the caller's.
// The transaction UID used is returned under "transaction_uid".
func (c *Client) ChangeState(ctx context.Context, workitemUID string, state models.UPSState, transactionUID string) Result {
	if !dicomuid.Validate(workitemUID) {
		return invalidUID("workitem UID", workitemUID)
	}

	target, err := ParseState(string(state))
	if err != nil {
		return failed(validationError(err, "Invalid state: %s. Must be one of: IN PROGRESS, COMPLETED, CANCELED", state), 0)
	}

	if transactionUID == "" {
		if target.RequiresTransactionUID() {
			return failed(validationError(ErrTransactionUIDRequired,
				"Transaction UID is required for %s state", target), 0)
		}
		transactionUID = dicomuid.Generate()
		c.logger.Info().Str("transaction_uid", transactionUID).Msg("Generated new transaction UID")
	} else if !dicomuid.Validate(transactionUID) {
		return invalidUID("transaction UID", transactionUID)
	}

	body := models.Dataset{}
	body.Set(models.TagProcedureStepState, "CS", target.String())
	body.Set(models.TagTransactionUID, "UI", transactionUID)

	res := c.engine.Send(ctx, Request{
		Action:        "change_state",
		Method:        http.MethodPut,
		URL:           c.workitemURL(workitemUID) + "/state",
		Body:          body,
		SuccessStatus: http.StatusOK,
		ResourceUID:   workitemUID,
	})
	if res.Err != nil {
		return res
	}

	m := res.Map()
	if m == nil {
		m = map[string]interface{}{"data": res.Payload}
	}
	m["transaction_uid"] = transactionUID
	res.Payload = m
	return res
}

// RequestCancellation asks the performer to cancel a workitem. Acceptance
// only means the request was received.
func (c *Client) RequestCancellation(ctx context.Context, workitemUID string, req CancellationRequest) Result {
	if !dicomuid.Validate(workitemUID) {
		return invalidUID("workitem UID", workitemUID)
	}

	body := models.Dataset{}
	if req.Reason != "" {
		body.Set(models.TagReasonForCancellation, "LT", req.Reason)
	}
	if req.ContactName != "" {
		body.Set(models.TagContactDisplayName, "PN", req.ContactName)
	}
	if req.ContactURI != "" {
		body.Set(models.TagContactURI, "UT", req.ContactURI)
	}

	return c.engine.Send(ctx, Request{
		Action:        "request_cancellation",
		Method:        http.MethodPost,
		URL:           c.workitemURL(workitemUID) + "/cancelrequest",
		Body:          body,
		SuccessStatus: http.StatusAccepted,
		ResourceUID:   workitemUID,
	})
}
