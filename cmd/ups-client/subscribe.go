package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otcheredev/ris-ups-client/internal/eventlog"
	"github.com/otcheredev/ris-ups-client/internal/handlers"
	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/otcheredev/ris-ups-client/internal/monitor"
	"github.com/otcheredev/ris-ups-client/internal/notify"
	"github.com/otcheredev/ris-ups-client/internal/upsrs"
	"github.com/rs/zerolog/log"
)

const eventRule = "------------------------------------------------------------"

type subscriptionFlags struct {
	worklist         bool
	filteredWorklist bool
	workitemUID      string
	filter           *matchFlag
	deletionLock     bool
	monitor          bool
}

// subscription resolves the mutually exclusive scope flags
func (f subscriptionFlags) subscription() (upsrs.Subscription, string, error) {
	chosen := 0
	if f.worklist {
		chosen++
	}
	if f.filteredWorklist {
		chosen++
	}
	if f.workitemUID != "" {
		chosen++
	}
	if chosen != 1 {
		return upsrs.Subscription{}, "", errors.New("exactly one of -worklist, -filtered-worklist or -workitem is required")
	}

	switch {
	case f.worklist:
		return upsrs.Subscription{Scope: upsrs.ScopeWorklist, DeletionLock: f.deletionLock}, "worklist", nil
	case f.filteredWorklist:
		if len(f.filter.values) == 0 {
			return upsrs.Subscription{}, "", errors.New("-filtered-worklist needs at least one -filter")
		}
		return upsrs.Subscription{
			Scope:        upsrs.ScopeFilteredWorklist,
			Filter:       f.filter.values,
			DeletionLock: f.deletionLock,
		}, "filtered worklist", nil
	default:
		return upsrs.Subscription{
			Scope:        upsrs.ScopeWorkitem,
			WorkitemUID:  f.workitemUID,
			DeletionLock: f.deletionLock,
		}, "workitem " + f.workitemUID, nil
	}
}

func (a *app) subscriptionFlagSet(name string, args []string) (subscriptionFlags, int, bool) {
	fs := a.newFlagSet(name)
	f := subscriptionFlags{filter: newMatchFlag()}
	fs.BoolVar(&f.worklist, "worklist", false, "target all workitems")
	fs.BoolVar(&f.filteredWorklist, "filtered-worklist", false, "target workitems matching -filter")
	fs.StringVar(&f.workitemUID, "workitem", "", "target a single workitem by UID")
	fs.Var(f.filter, "filter", "filter as tag=value (repeatable)")
	fs.BoolVar(&f.deletionLock, "deletion-lock", false, "keep workitems until the subscriber has been notified")

	if name == "subscribe" {
		fs.BoolVar(&f.monitor, "monitor", false, "listen for events until interrupted")
	}
	code, ok := parseFlags(fs, args)
	return f, code, ok
}

func (a *app) runSubscribe(ctx context.Context, args []string) int {
	f, code, ok := a.subscriptionFlagSet("subscribe", args)
	if !ok {
		return code
	}

	aeTitle := a.cfg.UPS.AETitle
	if aeTitle == "" {
		fmt.Fprintln(a.errOut, "Error: -aetitle is required for subscription operations")
		return 1
	}
	sub, target, err := f.subscription()
	if err != nil {
		fmt.Fprintf(a.errOut, "Error: %v\n", err)
		return 1
	}

	res := a.client.Subscribe(ctx, aeTitle, sub)
	if !res.OK() {
		return a.fail(res)
	}

	fmt.Fprintf(a.out, "Successfully subscribed to %s\n", target)
	a.printJSON(res.Payload)
	if address := a.client.ChannelAddress(); address != "" {
		fmt.Fprintf(a.out, "WebSocket URL: %s\n", address)
	}

	if !f.monitor {
		return 0
	}
	return a.watch(ctx)
}

func (a *app) runUnsubscribe(ctx context.Context, args []string) int {
	f, code, ok := a.subscriptionFlagSet("unsubscribe", args)
	if !ok {
		return code
	}

	aeTitle := a.cfg.UPS.AETitle
	if aeTitle == "" {
		fmt.Fprintln(a.errOut, "Error: -aetitle is required for subscription operations")
		return 1
	}
	sub, target, err := f.subscription()
	if err != nil {
		fmt.Fprintf(a.errOut, "Error: %v\n", err)
		return 1
	}

	res := a.client.Unsubscribe(ctx, aeTitle, sub)
	if !res.OK() {
		return a.fail(res)
	}

	fmt.Fprintf(a.out, "Successfully unsubscribed from %s\n", target)
	a.printJSON(res.Payload)
	return 0
}

// watch receives events until ctx is cancelled or the channel gives up
func (a *app) watch(ctx context.Context) int {
	store, err := a.openEventStore()
	if err != nil {
		fmt.Fprintf(a.errOut, "Error opening event log: %v\n", err)
		return 1
	}
	defer store.Close()

	if a.cfg.Monitor.Addr != "" {
		srv := monitor.New(monitor.Config{
			Addr:           a.cfg.Monitor.Addr,
			Events:         store,
			Gatherer:       a.registry,
			Checks:         a.healthChecks(store),
			AllowedOrigins: a.cfg.Monitor.AllowedOrigins,
		})
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Monitor server shutdown failed")
			}
		}()
	}

	handler := func(ev *models.Event) error {
		a.printEvent(ev)
		return store.Append(context.Background(), eventlog.NewEntry(ev))
	}
	if err := a.client.Connect(handler); err != nil {
		fmt.Fprintf(a.errOut, "Error connecting to notification channel: %v\n", err)
		return 1
	}

	fmt.Fprintln(a.out, "Listening for events. Press Ctrl+C to stop.")

	channel := a.client.Channel()
	select {
	case <-ctx.Done():
		a.client.Disconnect()
		fmt.Fprintln(a.out, "Stopped listening for events")
		return 0
	case <-channel.Done():
		if err := channel.Err(); err != nil {
			fmt.Fprintf(a.errOut, "Notification channel closed: %v\n", err)
			return 1
		}
		return 0
	}
}

func (a *app) openEventStore() (eventlog.Store, error) {
	opts := eventlog.Options{Capacity: a.cfg.EventLog.Capacity, TTL: a.cfg.EventLog.TTL}
	if a.cfg.EventLog.Type == "redis" {
		return eventlog.NewRedisStore(eventlog.RedisConfig{
			Addr:     a.cfg.Redis.Addr(),
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		}, opts)
	}
	return eventlog.NewMemoryStore(opts), nil
}

func (a *app) healthChecks(store eventlog.Store) map[string]handlers.Check {
	channel := a.client.Channel()
	checks := map[string]handlers.Check{
		"notification_channel": func(ctx context.Context) error {
			if s := channel.State(); s == notify.StateClosed {
				if err := channel.Err(); err != nil {
					return err
				}
				return errors.New("channel closed")
			}
			return nil
		},
	}
	if rs, ok := store.(*eventlog.RedisStore); ok {
		checks["redis"] = rs.Ping
	}
	if a.db != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	return checks
}

func (a *app) printEvent(ev *models.Event) {
	fmt.Fprintf(a.out, "\nEVENT RECEIVED: %s - Workitem: %s\n", ev.EventTypeID(), ev.AffectedSOPInstanceUID())
	a.printJSON(ev.Payload)
	fmt.Fprintln(a.out, eventRule)
}
