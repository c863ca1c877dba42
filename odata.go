// Package odata is a client for OData V2, V3 and V4 services.
//
// Commands are built fluently, resolved against the service metadata and
// written as protocol-correct requests; responses come back as plain
// records:
//
//	client, err := odata.NewClient(odata.Config{BaseURL: "https://services.odata.org/V4/Northwind/Northwind.svc"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	products, err := client.FindEntries(ctx, odata.For("Products").
//		Filter(odata.Gt(odata.Prop("UnitPrice"), odata.Lit(20))).
//		OrderBy("ProductName").
//		Top(10))
//
// Names are matched tolerantly: "product", "Products" and "products" all
// resolve to the Products entity set. Metadata is fetched once per service
// root and cached.
package odata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	servertiming "github.com/mitchellh/go-server-timing"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nlstn/go-odataclient/internal/batch"
	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/metacache"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/naming"
	"github.com/nlstn/go-odataclient/internal/observability"
	"github.com/nlstn/go-odataclient/internal/protocol"
	"github.com/nlstn/go-odataclient/internal/reader"
	"github.com/nlstn/go-odataclient/internal/writer"
)

// Version is an OData protocol version.
type Version = protocol.Version

const (
	V2 = protocol.V2
	V3 = protocol.V3
	V4 = protocol.V4
)

// ParseVersion reads a version string such as "4.0" or "3.0;NetFx".
func ParseVersion(s string) (Version, error) { return protocol.ParseVersion(s) }

// BatchFormat selects the wire format of $batch requests.
type BatchFormat = batch.Format

const (
	// BatchMultipart sends multipart/mixed batches. It works with every version.
	BatchMultipart = batch.FormatMultipart
	// BatchJSON sends V4 JSON batches. Older versions fall back to multipart.
	BatchJSON = batch.FormatJSON
)

// NameMatchResolver decides whether a requested name matches a metadata name.
type NameMatchResolver = naming.Resolver

var (
	ExactMatch           NameMatchResolver = naming.Exact
	CaseInsensitiveMatch NameMatchResolver = naming.CaseInsensitive
	// PluralizingMatch is case-insensitive and accepts singular and plural
	// forms of the same word. It is the default.
	PluralizingMatch NameMatchResolver = naming.Pluralizing
)

// ObjectMapper turns caller objects into records.
type ObjectMapper = command.ObjectMapper

// Converter turns a caller value into one the request writer can encode.
type Converter = writer.Converter

// Transport sends HTTP requests. *http.Client satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ Transport = (*http.Client)(nil)

const (
	// DefaultVersion is used when neither the configuration nor the
	// metadata document names a protocol version.
	DefaultVersion = protocol.V4

	// DefaultMaxDeepInsertDepth bounds nested entries written by a deep insert.
	DefaultMaxDeepInsertDepth = writer.DefaultMaxDepth

	metadataSegment = "$metadata"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the service root. Required.
	BaseURL string

	// Version forces the protocol version. Zero uses the version declared
	// by the metadata document.
	Version Version

	// Transport sends the requests. Defaults to a lazily created *http.Client.
	Transport Transport

	// Logger receives request and metadata logs. Defaults to slog.Default().
	Logger *slog.Logger

	// NameMatchResolver matches requested names against metadata names.
	// Defaults to PluralizingMatch.
	NameMatchResolver NameMatchResolver

	// IgnoreResourceNotFound turns 404 responses of read operations into
	// empty results instead of errors.
	IgnoreResourceNotFound bool

	// IncludeAnnotationsInResults adds an "__annotations" entry with
	// ETags, links and counts to every returned record.
	IncludeAnnotationsInResults bool

	// RenewHTTPConnection uses a fresh connection for every call and closes
	// it afterwards. Ignored when Transport is set.
	RenewHTTPConnection bool

	// BatchFormat selects multipart or JSON batches. Defaults to multipart.
	BatchFormat BatchFormat

	// MetadataCache is shared by clients of the same services. Defaults to
	// a cache owned by the client.
	MetadataCache *MetadataCache

	// MetadataDocument is a CSDL document used instead of fetching $metadata.
	MetadataDocument string

	// Converters encode caller types the writer does not know, keyed by type.
	Converters map[reflect.Type]Converter

	// ObjectMapper turns entries and keys into records. Defaults to a mapper
	// reading odata and json struct tags.
	ObjectMapper ObjectMapper

	// BeforeRequest is called with every request before it is sent.
	BeforeRequest func(*http.Request)

	// AfterResponse is called with every response before it is read.
	AfterResponse func(*http.Response)

	// Observability enables OpenTelemetry tracing and metrics.
	Observability *ObservabilityConfig

	// MaxDeepInsertDepth bounds nested entries written by a deep insert.
	// Defaults to DefaultMaxDeepInsertDepth.
	MaxDeepInsertDepth int

	// Headers are added to every request.
	Headers http.Header
}

// ObservabilityConfig configures tracing and metrics. Nil providers disable
// the corresponding feature.
type ObservabilityConfig struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// ServiceName identifies the client in telemetry. Defaults to "odata-client".
	ServiceName    string
	ServiceVersion string
}

// Client talks to one OData service. It is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL string
	cache   *metacache.Cache
	obs     *observability.Config

	httpOnce   sync.Once
	httpClient *http.Client

	mu      sync.RWMutex
	logger  *slog.Logger
	session *session
	timing  *servertiming.Header
}

// NewClient validates cfg and creates a client. Metadata is fetched on the
// first call unless cfg.MetadataDocument is set.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("odata: BaseURL is required")
	}
	if cfg.Version != 0 {
		if _, err := protocol.For(cfg.Version); err != nil {
			return nil, fmt.Errorf("odata: %w", err)
		}
	}
	if cfg.MaxDeepInsertDepth < 0 {
		return nil, fmt.Errorf("odata: MaxDeepInsertDepth must not be negative, got %d", cfg.MaxDeepInsertDepth)
	}
	if cfg.MaxDeepInsertDepth == 0 {
		cfg.MaxDeepInsertDepth = DefaultMaxDeepInsertDepth
	}
	if cfg.NameMatchResolver == nil {
		cfg.NameMatchResolver = PluralizingMatch
	}
	if cfg.ObjectMapper == nil {
		cfg.ObjectMapper = command.DefaultMapper
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
		cache:   cfg.MetadataCache,
	}
	if c.cache == nil {
		c.cache = metacache.New(metacache.WithLogger(logger))
	}

	if err := c.setObservability(cfg.Observability); err != nil {
		return nil, err
	}

	if cfg.MetadataDocument != "" {
		if _, err := c.cache.Put(c.baseURL, []byte(cfg.MetadataDocument)); err != nil {
			return nil, fmt.Errorf("odata: %w", err)
		}
	}
	return c, nil
}

func (c *Client) setObservability(cfg *ObservabilityConfig) error {
	opts := []observability.Option{observability.WithLogger(c.log())}
	if cfg != nil {
		if cfg.TracerProvider != nil {
			opts = append(opts, observability.WithTracerProvider(cfg.TracerProvider))
		}
		if cfg.MeterProvider != nil {
			opts = append(opts, observability.WithMeterProvider(cfg.MeterProvider))
		}
		if cfg.ServiceName != "" {
			opts = append(opts, observability.WithServiceName(cfg.ServiceName))
		}
		if cfg.ServiceVersion != "" {
			opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
		}
	}
	obs := observability.NewConfig(opts...)
	if err := obs.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	c.obs = obs
	if cfg != nil {
		c.log().Info("Observability configured",
			"tracing_enabled", cfg.TracerProvider != nil,
			"metrics_enabled", cfg.MeterProvider != nil,
			"service_name", obs.ServiceName(),
		)
	}
	return nil
}

// SetLogger replaces the client logger.
func (c *Client) SetLogger(logger *slog.Logger) error {
	if logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}
	c.mu.Lock()
	c.logger = logger
	c.session = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) log() *slog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// LastServerTiming returns the Server-Timing header of the most recent
// response that carried one.
func (c *Client) LastServerTiming() *servertiming.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timing
}

// InvalidateMetadata drops the cached metadata so the next call fetches it
// again.
func (c *Client) InvalidateMetadata(ctx context.Context) error {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	return c.cache.Invalidate(ctx, c.baseURL)
}

// session is the per-metadata state shared by calls: the protocol adapter,
// the metadata facade and a reader configured for both.
type session struct {
	entry   *metacache.Entry
	adapter *protocol.Adapter
	facade  *metadata.Service
	reader  *reader.Reader
}

func (c *Client) currentSession(ctx context.Context) (*session, error) {
	entry, err := c.cache.Get(ctx, c.baseURL, c.fetchMetadata)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s != nil && s.entry == entry {
		return s, nil
	}

	version := c.cfg.Version
	if version == 0 {
		if version, err = protocol.ParseVersion(entry.Model.Version); err != nil {
			c.log().Warn("Unknown metadata version, using default", "version", entry.Model.Version, "default", DefaultVersion.String())
			version = DefaultVersion
		}
	}
	adapter, err := protocol.For(version)
	if err != nil {
		return nil, err
	}
	facade := metadata.NewService(entry.Model, c.cfg.NameMatchResolver)
	s = &session{
		entry:   entry,
		adapter: adapter,
		facade:  facade,
		reader:  &reader.Reader{Adapter: adapter, Facade: facade, Logger: c.log()},
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return s, nil
}

// fetchMetadata is the metadata cache loader.
func (c *Client) fetchMetadata(ctx context.Context, uri string) ([]byte, error) {
	h := http.Header{}
	h.Set("Accept", "application/xml")
	req := &writer.Request{Method: http.MethodGet, URI: writer.JoinURL(uri, metadataSegment), Header: h}
	bootstrap := &reader.Reader{Adapter: protocol.MustFor(DefaultVersion), Logger: c.log()}

	resp, err := c.send(ctx, bootstrap, req, reader.Options{Stream: true})
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp.Raw, nil
}

func (s *session) resolve(c *Client, cmd *Command, entries command.EntryRegistrar) (*command.Resolved, error) {
	if cmd == nil {
		return nil, fmt.Errorf("odata: nil command")
	}
	if cmd.err != nil {
		return nil, cmd.err
	}
	return command.Resolve(cmd.d, s.facade, command.Options{
		Adapter: s.adapter,
		Mapper:  c.cfg.ObjectMapper,
		Entries: entries,
	})
}

func (s *session) writer(c *Client, b writer.ContentIDLookup) *writer.Writer {
	return &writer.Writer{
		BaseURL:    c.baseURL,
		Adapter:    s.adapter,
		Facade:     s.facade,
		Mapper:     c.cfg.ObjectMapper,
		Converters: c.cfg.Converters,
		MaxDepth:   c.cfg.MaxDeepInsertDepth,
		Batch:      b,
	}
}
