package upsrs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/otcheredev/ris-ups-client/internal/dicomuid"
	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/otcheredev/ris-ups-client/internal/notify"
)

// Scope selects what a subscription covers
type Scope int

const (
	ScopeWorklist Scope = iota
	ScopeFilteredWorklist
	ScopeWorkitem
)

func (s Scope) String() string {
	switch s {
	case ScopeWorklist:
		return "worklist"
	case ScopeFilteredWorklist:
		return "filtered_worklist"
	case ScopeWorkitem:
		return "workitem"
	default:
		return "unknown"
	}
}

// Subscription identifies one subscription target
type Subscription struct {
	Scope Scope
	// WorkitemUID is used with ScopeWorkitem only
	WorkitemUID string
	// Filter is used with ScopeFilteredWorklist only
	Filter       map[string]string
	DeletionLock bool
}

// subscriptionURL builds the subscribers resource for aeTitle. A non-nil
// Result means validation failed.
func (c *Client) subscriptionURL(aeTitle string, sub Subscription) (string, *Result) {
	if aeTitle == "" {
		res := failed(validationError(ErrAETitleRequired, "AE Title is required for subscription operations"), 0)
		return "", &res
	}

	var scopeUID string
	switch sub.Scope {
	case ScopeWorklist:
		scopeUID = models.GlobalSubscriptionUID
	case ScopeFilteredWorklist:
		scopeUID = models.FilteredSubscriptionUID
	case ScopeWorkitem:
		if !dicomuid.Validate(sub.WorkitemUID) {
			res := invalidUID("workitem UID", sub.WorkitemUID)
			return "", &res
		}
		scopeUID = sub.WorkitemUID
	default:
		res := failed(validationError(nil, "Unknown subscription scope: %d", sub.Scope), 0)
		return "", &res
	}

	target := fmt.Sprintf("%s/%s/subscribers/%s", c.workitemsURL(), scopeUID, url.PathEscape(aeTitle))

	q := url.Values{}
	if sub.Scope == ScopeFilteredWorklist && len(sub.Filter) > 0 {
		q.Set("filter", filterParam(sub.Filter))
	}
	if sub.DeletionLock {
		q.Set("deletionlock", "true")
	}
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	return target, nil
}

func filterParam(filter map[string]string) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+filter[k])
	}
	return strings.Join(parts, ",")
}

// Subscribe creates a subscription for aeTitle and stores the returned
// Content-Location as the notification channel address. The address is
// also returned under "ws_url".
func (c *Client) Subscribe(ctx context.Context, aeTitle string, sub Subscription) Result {
	target, invalid := c.subscriptionURL(aeTitle, sub)
	if invalid != nil {
		return *invalid
	}

	res := c.engine.Send(ctx, Request{
		Action:        "subscribe",
		Method:        http.MethodPost,
		URL:           target,
		SuccessStatus: http.StatusCreated,
		ResourceUID:   sub.WorkitemUID,
	})
	if res.Err != nil {
		return res
	}

	location := res.String("content_location")
	if location == "" {
		c.logger.Warn().Str("scope", sub.Scope.String()).Msg("No Content-Location header in subscription response")
		return res
	}

	address := notify.ResolveAddress(c.baseURL, location)
	c.channel.SetAddress(address)
	c.logger.Info().Str("address", address).Msg("Notification channel address set")

	if m := res.Map(); m != nil {
		m["ws_url"] = address
	}
	return res
}

// Unsubscribe removes a subscription. The stored channel address is left unchanged.
func (c *Client) Unsubscribe(ctx context.Context, aeTitle string, sub Subscription) Result {
	target, invalid := c.subscriptionURL(aeTitle, sub)
	if invalid != nil {
		return *invalid
	}

	return c.engine.Send(ctx, Request{
		Action:        "unsubscribe",
		Method:        http.MethodDelete,
		URL:           target,
		SuccessStatus: http.StatusOK,
		ResourceUID:   sub.WorkitemUID,
	})
}

// SubscribeToWorklist subscribes aeTitle to every workitem
func (c *Client) SubscribeToWorklist(ctx context.Context, aeTitle string, deletionLock bool) Result {
	return c.Subscribe(ctx, aeTitle, Subscription{Scope: ScopeWorklist, DeletionLock: deletionLock})
}

// SubscribeToFilteredWorklist subscribes aeTitle to workitems matching filter
func (c *Client) SubscribeToFilteredWorklist(ctx context.Context, aeTitle string, filter map[string]string, deletionLock bool) Result {
	return c.Subscribe(ctx, aeTitle, Subscription{Scope: ScopeFilteredWorklist, Filter: filter, DeletionLock: deletionLock})
}

// SubscribeToWorkitem subscribes aeTitle to a single workitem
func (c *Client) SubscribeToWorkitem(ctx context.Context, aeTitle, workitemUID string, deletionLock bool) Result {
	return c.Subscribe(ctx, aeTitle, Subscription{Scope: ScopeWorkitem, WorkitemUID: workitemUID, DeletionLock: deletionLock})
}

// UnsubscribeFromWorklist removes a worklist subscription
func (c *Client) UnsubscribeFromWorklist(ctx context.Context, aeTitle string, deletionLock bool) Result {
	return c.Unsubscribe(ctx, aeTitle, Subscription{Scope: ScopeWorklist, DeletionLock: deletionLock})
}

// UnsubscribeFromFilteredWorklist removes a filtered worklist subscription
func (c *Client) UnsubscribeFromFilteredWorklist(ctx context.Context, aeTitle string, filter map[string]string, deletionLock bool) Result {
	return c.Unsubscribe(ctx, aeTitle, Subscription{Scope: ScopeFilteredWorklist, Filter: filter, DeletionLock: deletionLock})
}

// UnsubscribeFromWorkitem removes a single-workitem subscription
func (c *Client) UnsubscribeFromWorkitem(ctx context.Context, aeTitle, workitemUID string, deletionLock bool) Result {
	return c.Unsubscribe(ctx, aeTitle, Subscription{Scope: ScopeWorkitem, WorkitemUID: workitemUID, DeletionLock: deletionLock})
}
