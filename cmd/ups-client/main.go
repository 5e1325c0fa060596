package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/otcheredev/ris-ups-client/internal/config"
	"github.com/otcheredev/ris-ups-client/internal/database"
	"github.com/otcheredev/ris-ups-client/internal/observability"
	"github.com/otcheredev/ris-ups-client/internal/repository"
	"github.com/otcheredev/ris-ups-client/internal/upsrs"
	"github.com/otcheredev/ris-ups-client/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

const usageText = `usage: ups-client [global flags] <command> [flags]

commands:
  create          create a workitem
  retrieve        retrieve a workitem
  search          search workitems
  update          update workitem attributes
  change-state    change the procedure step state of a workitem
  request-cancel  ask the performer to cancel a workitem
  subscribe       subscribe to workitem events
  unsubscribe     remove a subscription

global flags:`

// app carries what every subcommand needs
type app struct {
	cfg      *config.Config
	client   *upsrs.Client
	registry *prometheus.Registry
	db       *gorm.DB
	out      io.Writer
	errOut   io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("ups-client", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageText)
		fs.PrintDefaults()
	}

	server := fs.String("server", cfg.UPS.BaseURL, "URL of the UPS-RS server (e.g. http://localhost:5000)")
	aeTitle := fs.String("aetitle", cfg.UPS.AETitle, "Application Entity Title for subscription operations")
	verbose := fs.Bool("v", false, "enable verbose logging")
	timeout := fs.Int("timeout", int(cfg.UPS.Timeout/time.Second), "request timeout in seconds")
	maxRetries := fs.Int("max-retries", cfg.UPS.MaxRetries, "maximum number of request retries")
	retryDelay := fs.Int("retry-delay-ms", int(cfg.UPS.RetryDelay/time.Millisecond), "base delay between retries in milliseconds")
	insecure := fs.Bool("insecure", !cfg.UPS.VerifyTLS, "skip TLS certificate verification")
	caBundle := fs.String("ca-bundle", cfg.UPS.CABundle, "PEM file with trusted CA certificates")
	clientCert := fs.String("client-cert", cfg.UPS.ClientCert, "PEM client certificate for mutual TLS")
	clientKey := fs.String("client-key", cfg.UPS.ClientKey, "PEM client key for mutual TLS")
	token := fs.String("token", cfg.UPS.BearerToken, "bearer token sent with every request")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 1
	}

	cfg.UPS.BaseURL = *server
	cfg.UPS.AETitle = *aeTitle
	cfg.UPS.Timeout = time.Duration(*timeout) * time.Second
	cfg.UPS.MaxRetries = *maxRetries
	cfg.UPS.RetryDelay = time.Duration(*retryDelay) * time.Millisecond
	cfg.UPS.VerifyTLS = !*insecure
	cfg.UPS.CABundle = *caBundle
	cfg.UPS.ClientCert = *clientCert
	cfg.UPS.ClientKey = *clientKey
	cfg.UPS.BearerToken = *token
	if *verbose {
		cfg.Log.Level = "debug"
	}

	logger.InitWriter(stderr, cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 1
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.Config{
		ServiceName: "ups-client",
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Headers:     observability.ParseHeaders(cfg.Tracing.Headers),
		SampleRatio: cfg.Tracing.SampleRatio,
		Environment: cfg.Tracing.Environment,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(flushCtx)
		}()
	}

	a, err := newApp(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialise client: %v\n", err)
		return 1
	}
	defer a.close()

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "create":
		return a.runCreate(ctx, rest)
	case "retrieve":
		return a.runRetrieve(ctx, rest)
	case "search":
		return a.runSearch(ctx, rest)
	case "update":
		return a.runUpdate(ctx, rest)
	case "change-state":
		return a.runChangeState(ctx, rest)
	case "request-cancel":
		return a.runRequestCancel(ctx, rest)
	case "subscribe":
		return a.runSubscribe(ctx, rest)
	case "unsubscribe":
		return a.runUnsubscribe(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		fs.Usage()
		return 1
	}
}

func newApp(cfg *config.Config, stdout, stderr io.Writer) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []upsrs.Option{
		upsrs.WithLogger(logger.Component("ups-rs")),
		upsrs.WithRegisterer(registry),
	}

	var db *gorm.DB
	if cfg.Audit.Enabled {
		var err error
		db, err = database.Connect(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			LogLevel: cfg.Database.LogLevel,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, upsrs.WithAuditor(repository.NewAuditRepository(db)))
	}

	client, err := upsrs.NewClient(upsrs.Config{
		BaseURL:    cfg.UPS.BaseURL,
		AETitle:    cfg.UPS.AETitle,
		Timeout:    cfg.UPS.Timeout,
		MaxRetries: cfg.UPS.MaxRetries,
		RetryDelay: cfg.UPS.RetryDelay,
		TLS: upsrs.TLSConfig{
			InsecureSkipVerify: !cfg.UPS.VerifyTLS,
			CABundle:           cfg.UPS.CABundle,
			ClientCert:         cfg.UPS.ClientCert,
			ClientKey:          cfg.UPS.ClientKey,
		},
		BearerToken:  cfg.UPS.BearerToken,
		AsyncWorkers: cfg.UPS.AsyncWorkers,
	}, opts...)
	if err != nil {
		if db != nil {
			_ = database.Close(db)
		}
		return nil, err
	}

	return &app{
		cfg:      cfg,
		client:   client,
		registry: registry,
		db:       db,
		out:      stdout,
		errOut:   stderr,
	}, nil
}

func (a *app) close() {
	if err := a.client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close client cleanly")
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.Warn().Err(err).Msg("Failed to close audit database")
		}
	}
}
