// Package upsrs is a client for the DICOM UPS-RS (Unified Procedure Step
// RESTful Services) protocol.
package upsrs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/otcheredev/ris-ups-client/internal/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TLSConfig holds the transport security settings shared by HTTP requests
// and the notification channel
type TLSConfig struct {
	InsecureSkipVerify bool
	CABundle           string
	ClientCert         string
	ClientKey          string
}

// Config holds client configuration
type Config struct {
	BaseURL      string
	AETitle      string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	TLS          TLSConfig
	BearerToken  string
	AsyncWorkers int
}

// DefaultConfig returns the defaults used when a field is left zero
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryDelay:   time.Second,
		AsyncWorkers: 5,
	}
}

// Option customises a Client
type Option func(*options)

type options struct {
	logger          *zerolog.Logger
	httpClient      *http.Client
	registerer      prometheus.Registerer
	auditor         Auditor
	transport       notify.PushTransport
	reconnectPolicy *notify.ReconnectPolicy
}

// WithLogger sets the logger used by the client and its channel
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithHTTPClient replaces the HTTP client. TLS settings from Config are not
// applied to a caller-supplied client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRegisterer registers client metrics with reg instead of a private registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithAuditor records every executed operation
func WithAuditor(a Auditor) Option {
	return func(o *options) { o.auditor = a }
}

// WithPushTransport replaces the WebSocket notification transport
func WithPushTransport(t notify.PushTransport) Option {
	return func(o *options) { o.transport = t }
}

// WithReconnectPolicy overrides the notification channel reconnect policy
func WithReconnectPolicy(p notify.ReconnectPolicy) Option {
	return func(o *options) { o.reconnectPolicy = &p }
}

// Client is the UPS-RS client aggregate. It owns the HTTP connection pool,
// the retry policy, the async worker pool and the notification channel.
type Client struct {
	baseURL    string
	aeTitle    string
	engine     *Engine
	httpClient *http.Client
	channel    *notify.Channel
	pool       *pool
	logger     zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a client for the UPS-RS service at cfg.BaseURL
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.AsyncWorkers <= 0 {
		cfg.AsyncWorkers = defaults.AsyncWorkers
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("ups-rs: base URL is required")
	}

	logger := log.Logger.With().Str("component", "ups-rs").Logger()
	if o.logger != nil {
		logger = *o.logger
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	httpClient := o.httpClient
	if httpClient == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSClientConfig = tlsConfig
		base.MaxIdleConnsPerHost = 10
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		}
	}

	engine := NewEngine(httpClient, RetryPolicy{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay}, logger, NewMetrics(o.registerer))
	engine.bearerToken = cfg.BearerToken
	engine.aeTitle = cfg.AETitle
	engine.auditor = o.auditor

	transport := o.transport
	if transport == nil {
		transport = notify.NewWebSocketTransport(tlsConfig, cfg.Timeout, cfg.BearerToken)
	}
	policy := notify.DefaultReconnectPolicy()
	if o.reconnectPolicy != nil {
		policy = *o.reconnectPolicy
	}

	return &Client{
		baseURL:    baseURL,
		aeTitle:    cfg.AETitle,
		engine:     engine,
		httpClient: httpClient,
		channel:    notify.NewChannel(transport, policy, logger.With().Str("component", "notify").Logger(), o.registerer),
		pool:       newPool(cfg.AsyncWorkers),
		logger:     logger,
	}, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CABundle != "" {
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", cfg.CABundle)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		if cfg.ClientCert == "" || cfg.ClientKey == "" {
			return nil, errors.New("client certificate and key must be provided together")
		}
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// BaseURL returns the service root without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AETitle returns the configured subscriber AE title
func (c *Client) AETitle() string {
	return c.aeTitle
}

// ChannelAddress returns the notification channel address from the most
// recent successful subscription
func (c *Client) ChannelAddress() string {
	return c.channel.Address()
}

// Channel exposes the notification channel for state polling
func (c *Client) Channel() *notify.Channel {
	return c.channel
}

// Connect starts receiving notifications on the active channel address
func (c *Client) Connect(handler notify.Handler) error {
	return c.channel.Connect(handler)
}

// Disconnect stops the notification channel. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.channel.Disconnect()
}

// Close releases every resource the client owns. Each step is attempted even
// if an earlier one fails; later calls return the first call's result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error

		func() {
			defer func() {
				if r := recover(); r != nil {
					errs = append(errs, fmt.Errorf("failed to disconnect channel: %v", r))
				}
			}()
			c.channel.Disconnect()
		}()

		if err := c.pool.close(); err != nil {
			errs = append(errs, err)
		}

		c.httpClient.CloseIdleConnections()

		c.closeErr = errors.Join(errs...)
		c.logger.Debug().Msg("UPS-RS client closed")
	})
	return c.closeErr
}
