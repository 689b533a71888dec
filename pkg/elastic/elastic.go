// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"
)

const (
	createIndexMaxRetries    = 3
	createIndexRetryInterval = 1 * time.Second
	DefaultPageSize          = 100
)

// Client is a thin convenience layer over the olivere elastic client: request
// helpers for search/scroll/clear-scroll (synchronous and asynchronous) and
// access to the wrapped client for everything else. The client is safe for
// concurrent use; this layer holds no mutable state of its own.
type Client interface {
	Backend() *elastic.Client
	Sniffer() *Sniffer

	Search(ctx context.Context, apply func(*elastic.SearchService), opts ...RequestOptions) (*elastic.SearchResult, error)
	SearchAsync(ctx context.Context, apply func(*elastic.SearchService), opts ...RequestOptions) *Pending[*elastic.SearchResult]
	Scroll(ctx context.Context, scrollID string, keepAliveMinutes int, opts ...RequestOptions) (*elastic.SearchResult, error)
	ClearScroll(ctx context.Context, scrollIDs []string, opts ...RequestOptions) (*elastic.ClearScrollResponse, error)
	SearchDirect(ctx context.Context, endpoint, body string, opts ...RequestOptions) (*elastic.SearchResult, error)
	SearchAsyncDirect(ctx context.Context, endpoint, body string, opts ...RequestOptions) *Pending[*elastic.SearchResult]

	Do(ctx context.Context, s *elastic.SearchService) (*elastic.SearchResult, error)
}

// client implements the Client interface.
type client struct {
	*elastic.Client
	cfg        *Config
	httpClient *http.Client
	sniffer    *Sniffer
}

// NewWithClient wraps an existing elastic client. The direct-search helpers
// are unavailable on a client constructed this way since there is no endpoint
// configuration to build raw requests from.
func NewWithClient(cli *elastic.Client) Client {
	return &client{
		Client: cli,
	}
}

// Do invokes the Do on the search service. This is added to allow us to mock out the client in test code.
func (c *client) Do(ctx context.Context, s *elastic.SearchService) (*elastic.SearchResult, error) {
	return s.Do(ctx)
}

// MustGetElasticClient returns the elastic Client, or exits if it's not possible.
func MustGetElasticClient() Client {
	cfg := MustLoadConfig()
	c, err := NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("Unable to connect to Elasticsearch: %v", err)
	}
	return c
}

// NewFromConfig returns a new elastic Client using the supplied configuration.
// This method performs retries if creation of the client fails.
//
// When sniffing is enabled this starts a single background refresh task that
// outlives the call; stopping it (Sniffer().Stop()) and stopping the wrapped
// client (Backend().Stop()) are the caller's responsibility.
func NewFromConfig(cfg *Config) (Client, error) {
	var sniffer *Sniffer
	if cfg.ElasticSniffingEnabled {
		sniffer = newSniffer(cfg.ElasticSniffAfterFailureDelay, cfg.ElasticSniffInterval)
	}

	h, err := newHTTPClient(cfg, sniffer)
	if err != nil {
		return nil, err
	}

	options := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.URL().String()),
		elastic.SetScheme(cfg.ElasticScheme),
		elastic.SetHttpClient(h),
		elastic.SetGzip(cfg.ElasticGZIPEnabled),
		elastic.SetSniff(cfg.ElasticSniffingEnabled),
		elastic.SetErrorLog(log.StandardLogger()),
	}
	if cfg.ElasticSniffingEnabled {
		options = append(options, elastic.SetSnifferInterval(cfg.ElasticSniffInterval))
	}
	if cfg.ParsedLogLevel == log.TraceLevel {
		options = append(options, elastic.SetTraceLog(log.StandardLogger()))
	}
	if cfg.ElasticUsername != "" {
		options = append(options, elastic.SetBasicAuth(cfg.ElasticUsername, cfg.ElasticPassword))
	}

	var c *elastic.Client
	for i := 0; i < cfg.ElasticConnRetries; i++ {
		log.Info("Connecting to Elastic")
		if c, err = elastic.NewClient(options...); err == nil {
			log.Info("Successfully connected to Elastic")
			if sniffer != nil {
				sniffer.bind(c)
				sniffer.Start()
			}
			return &client{Client: c, cfg: cfg, httpClient: h, sniffer: sniffer}, nil
		}
		log.WithError(err).WithField("attempts", cfg.ElasticConnRetries-i).Warning("Elastic connect failed, retrying")
		time.Sleep(cfg.ElasticConnRetryInterval)
	}
	log.Errorf("Unable to connect to Elastic after %d retries", cfg.ElasticConnRetries)
	return nil, err
}

// newHTTPClient assembles the http client the wrapped elastic client issues
// requests through: TLS trust for https endpoints plus the instrumenting
// round tripper that records metrics and reports failures to the sniffer.
func newHTTPClient(cfg *Config, sniffer *Sniffer) (*http.Client, error) {
	var transport http.RoundTripper = http.DefaultTransport

	if cfg.ElasticScheme == "https" {
		ca, err := x509.SystemCertPool()
		if err != nil {
			return nil, err
		}
		if cfg.ElasticCA != "" {
			cert, err := os.ReadFile(cfg.ElasticCA)
			if err != nil {
				return nil, err
			}
			ok := ca.AppendCertsFromPEM(cert)
			if !ok {
				return nil, fmt.Errorf("invalid Elasticsearch CA in environment variable ELASTIC_CA")
			}
		}
		transport = &http.Transport{TLSClientConfig: &tls.Config{RootCAs: ca}}
	}

	var onFailure func()
	if sniffer != nil {
		onFailure = sniffer.NotifyFailure
	}
	return &http.Client{
		Transport: &instrumentedRoundTripper{defaultTransport: transport, onFailure: onFailure},
	}, nil
}

func (c *client) Backend() *elastic.Client {
	return c.Client
}

// Sniffer returns the background refresh task started by the factory, or nil
// when sniffing is disabled.
func (c *client) Sniffer() *Sniffer {
	return c.sniffer
}

// NewMockClient creates a mock client used for testing. Only the search paths
// are mocked out; everything else is unimplemented.
func NewMockClient(doFunc func(ctx context.Context, s *elastic.SearchService) (*elastic.SearchResult, error)) Client {
	mc := mockClient{}
	mc.DoFunc = doFunc
	return &mc
}

type mockClient struct {
	Client
	DoFunc func(ctx context.Context, s *elastic.SearchService) (*elastic.SearchResult, error)
}

func (m *mockClient) Backend() *elastic.Client {
	return nil
}

func (m *mockClient) Sniffer() *Sniffer {
	return nil
}

func (m *mockClient) Do(ctx context.Context, s *elastic.SearchService) (*elastic.SearchResult, error) {
	return m.DoFunc(ctx, s)
}

func (m *mockClient) Search(ctx context.Context, apply func(*elastic.SearchService), opts ...RequestOptions) (*elastic.SearchResult, error) {
	s := elastic.NewSearchService(nil)
	if apply != nil {
		apply(s)
	}
	return m.DoFunc(ctx, s)
}

func (m *mockClient) SearchAsync(ctx context.Context, apply func(*elastic.SearchService), opts ...RequestOptions) *Pending[*elastic.SearchResult] {
	return goPending(ctx, func(ctx context.Context) (*elastic.SearchResult, error) {
		return m.Search(ctx, apply, opts...)
	})
}

// NewMockSearchClient creates a mock client used for testing search results.
func NewMockSearchClient(results []interface{}) Client {
	idx := 0

	doFunc := func(_ context.Context, _ *elastic.SearchService) (*elastic.SearchResult, error) {
		if idx >= len(results) {
			return nil, errors.New("Enumerated past end of results")
		}
		result := results[idx]
		idx++

		switch rt := result.(type) {
		case *elastic.SearchResult:
			return rt, nil
		case elastic.SearchResult:
			return &rt, nil
		case error:
			return nil, rt
		case string:
			result := new(elastic.SearchResult)
			decoder := &elastic.DefaultDecoder{}
			err := decoder.Decode([]byte(rt), result)
			return result, err
		}

		return nil, errors.New("Unexpected result type")
	}

	return NewMockClient(doFunc)
}

// joinPath joins URL path segments with exactly one slash between them.
func joinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return "/" + strings.Join(parts, "/")
}
