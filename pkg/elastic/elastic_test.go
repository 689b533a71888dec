// Copyright (c) 2024 Tigera, Inc. All rights reserved.
package elastic_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	elastic7 "github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"

	. "github.com/tigera/es-bridge/pkg/elastic"
	"github.com/tigera/es-bridge/pkg/httputils"
)

var ctx = context.Background()

type testDoc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d testDoc) DocID() string { return d.ID }

func mockConfig(m *mockES) *Config {
	u, err := url.Parse(m.URL())
	Expect(err).NotTo(HaveOccurred())
	host, portStr, err := net.SplitHostPort(u.Host)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(portStr)
	Expect(err).NotTo(HaveOccurred())

	return &Config{
		LogLevel:                      "INFO",
		ParsedLogLevel:                log.InfoLevel,
		ElasticScheme:                 "http",
		ElasticHost:                   host,
		ElasticPort:                   port,
		ElasticConnRetries:            1,
		ElasticConnRetryInterval:      10 * time.Millisecond,
		ElasticSniffAfterFailureDelay: 30 * time.Second,
		ElasticSniffInterval:          10 * time.Second,
	}
}

var _ = Describe("Client factory", func() {
	var m *mockES

	BeforeEach(func() {
		m = newMockES()
	})

	AfterEach(func() {
		m.Close()
	})

	It("attaches no credentials when no username is configured", func() {
		c, err := NewFromConfig(mockConfig(m))
		Expect(err).NotTo(HaveOccurred())
		defer c.Backend().Stop()

		Expect(c.Sniffer()).To(BeNil())

		_, err = c.Search(ctx, func(s *elastic7.SearchService) { s.Index("docs") })
		Expect(err).NotTo(HaveOccurred())

		for _, req := range m.AllRequests() {
			Expect(req.Header.Get("Authorization")).To(BeEmpty())
		}
	})

	It("attaches basic auth credentials before any request is issued", func() {
		cfg := mockConfig(m)
		cfg.ElasticUsername = "elastic"
		cfg.ElasticPassword = "changeme"

		c, err := NewFromConfig(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer c.Backend().Stop()

		_, err = c.Search(ctx, func(s *elastic7.SearchService) { s.Index("docs") })
		Expect(err).NotTo(HaveOccurred())

		token := base64.StdEncoding.EncodeToString([]byte("elastic:changeme"))
		reqs := m.Requests(http.MethodPost, "/docs/_search")
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Header.Get("Authorization")).To(Equal("Basic " + token))
	})

	It("starts exactly one sniffer carrying the configured delay and interval, with or without credentials", func() {
		cfg := mockConfig(m)
		cfg.ElasticSniffingEnabled = true
		cfg.ElasticSniffAfterFailureDelay = 45 * time.Second
		cfg.ElasticSniffInterval = 10 * time.Second

		c, err := NewFromConfig(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer c.Backend().Stop()
		defer c.Sniffer().Stop()

		Expect(c.Sniffer()).NotTo(BeNil())
		Expect(c.Sniffer().AfterFailureDelay()).To(Equal(45 * time.Second))
		Expect(c.Sniffer().Interval()).To(Equal(10 * time.Second))

		// The startup sniff reached the backend's node discovery endpoint.
		Expect(m.Requests(http.MethodGet, "/_nodes/http")).NotTo(BeEmpty())
	})
})

var _ = Describe("Request helpers", func() {
	var m *mockES
	var c Client

	BeforeEach(func() {
		m = newMockES()
		var err error
		c, err = NewFromConfig(mockConfig(m))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		c.Backend().Stop()
		m.Close()
	})

	It("issues exactly one synchronous search", func() {
		res, err := c.Search(ctx, func(s *elastic7.SearchService) { s.Index("docs").Size(10) })
		Expect(err).NotTo(HaveOccurred())
		Expect(res.TotalHits()).To(Equal(int64(2)))
		Expect(m.Requests(http.MethodPost, "/docs/_search")).To(HaveLen(1))
	})

	It("delivers asynchronous search results through the pending call", func() {
		p := c.SearchAsync(ctx, func(s *elastic7.SearchService) { s.Index("docs") })
		res, err := p.Await(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.TotalHits()).To(Equal(int64(2)))
		Expect(m.Requests(http.MethodPost, "/docs/_search")).To(HaveLen(1))
	})

	It("builds a scroll continuation carrying the id and the minute TTL", func() {
		res, err := c.Scroll(ctx, "abc123", 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Hits.Hits).To(HaveLen(2))

		reqs := m.Requests(http.MethodPost, "/_search/scroll")
		Expect(reqs).To(HaveLen(1))

		var body struct {
			Scroll   string `json:"scroll"`
			ScrollID string `json:"scroll_id"`
		}
		Expect(json.Unmarshal(reqs[0].Body, &body)).To(Succeed())
		Expect(body.ScrollID).To(Equal("abc123"))
		Expect(body.Scroll).To(Equal("5m"))
	})

	It("clears multiple scroll ids in order with a single request", func() {
		resp, err := c.ClearScroll(ctx, []string{"id1", "id2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Succeeded).To(BeTrue())

		reqs := m.Requests(http.MethodDelete, "/_search/scroll")
		Expect(reqs).To(HaveLen(1))

		var body struct {
			ScrollID []string `json:"scroll_id"`
		}
		Expect(json.Unmarshal(reqs[0].Body, &body)).To(Succeed())
		Expect(body.ScrollID).To(Equal([]string{"id1", "id2"}))
	})

	It("applies request option headers to the underlying request", func() {
		_, err := c.Search(ctx, func(s *elastic7.SearchService) { s.Index("docs") },
			RequestOptions{Headers: http.Header{"X-Custom": []string{"yes"}}})
		Expect(err).NotTo(HaveOccurred())

		reqs := m.Requests(http.MethodPost, "/docs/_search")
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Header.Get("X-Custom")).To(Equal("yes"))
	})
})

var _ = Describe("Direct search", func() {
	var m *mockES
	var c Client

	BeforeEach(func() {
		m = newMockES()
		var err error
		c, err = NewFromConfig(mockConfig(m))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		c.Backend().Stop()
		m.Close()
	})

	It("parses the response on status 200 like a reference parse", func() {
		res, err := c.SearchDirect(ctx, "docs", `{"query": {"match_all": {}}}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.TotalHits()).To(Equal(int64(2)))

		ref := new(elastic7.SearchResult)
		Expect(json.Unmarshal([]byte(searchResultJSON), ref)).To(Succeed())
		Expect(res.Hits).To(Equal(ref.Hits))

		reqs := m.Requests(http.MethodPost, "/docs/_search")
		Expect(reqs).To(HaveLen(1))
		Expect(string(reqs[0].Body)).To(MatchJSON(`{"query": {"match_all": {}}}`))
	})

	It("surfaces the literal status line and raw body on non-200", func() {
		_, err := c.SearchDirect(ctx, "missing", `{}`)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("404 Not Found"))
		Expect(err.Error()).To(ContainSubstring("not found"))

		se, ok := httputils.GetStatusError(err)
		Expect(ok).To(BeTrue())
		Expect(se.Status).To(Equal(http.StatusNotFound))
		Expect(se.Body).To(Equal("not found"))
	})

	It("resolves the asynchronous direct search with the parsed response", func() {
		p := c.SearchAsyncDirect(ctx, "docs", `{"query": {"match_all": {}}}`)
		res, err := p.Await(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.TotalHits()).To(Equal(int64(2)))
	})

	It("aborts the in-flight request when the waiter gives up", func() {
		p := c.SearchAsyncDirect(ctx, "slow", `{}`)

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()

		_, err := p.Await(waitCtx)
		Expect(err).To(MatchError(context.DeadlineExceeded))

		// The underlying call observes the cancellation and resolves too.
		Eventually(p.Done(), "2s").Should(BeClosed())
	})

	It("sends credentials on the raw request when configured", func() {
		m2 := newMockES()
		defer m2.Close()

		cfg := mockConfig(m2)
		cfg.ElasticUsername = "elastic"
		cfg.ElasticPassword = "changeme"
		c2, err := NewFromConfig(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer c2.Backend().Stop()

		_, err = c2.SearchDirect(ctx, "docs", `{}`)
		Expect(err).NotTo(HaveOccurred())

		token := base64.StdEncoding.EncodeToString([]byte("elastic:changeme"))
		reqs := m2.Requests(http.MethodPost, "/docs/_search")
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Header.Get("Authorization")).To(Equal("Basic " + token))
	})
})

var _ = Describe("Repository", func() {
	var m *mockES
	var c Client
	var repo *Repository[testDoc]

	BeforeEach(func() {
		m = newMockES()
		var err error
		c, err = NewFromConfig(mockConfig(m))
		Expect(err).NotTo(HaveOccurred())
		repo = NewRepository[testDoc](c, "docs")
	})

	AfterEach(func() {
		c.Backend().Stop()
		m.Close()
	})

	It("stores a document under its own id", func() {
		id, err := repo.Store(ctx, testDoc{ID: "7", Name: "seven"})
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("7"))

		reqs := m.Requests(http.MethodPut, "/docs/_doc/7")
		Expect(reqs).To(HaveLen(1))
		Expect(string(reqs[0].Body)).To(MatchJSON(`{"id": "7", "name": "seven"}`))
	})

	It("generates an identifier when the document carries none", func() {
		id, err := repo.Store(ctx, testDoc{Name: "anonymous"})
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeEmpty())
	})

	It("retrieves a stored document by id", func() {
		doc, err := repo.Get(ctx, "1")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.ID).To(Equal("1"))
		Expect(doc.Name).To(Equal("stored"))
	})

	It("deletes a document by id", func() {
		Expect(repo.Delete(ctx, "1")).To(Succeed())
		Expect(m.Requests(http.MethodDelete, "/docs/_doc/1")).To(HaveLen(1))
	})

	It("bulk indexes documents in order with a single request", func() {
		err := repo.Bulk(ctx, []testDoc{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}})
		Expect(err).NotTo(HaveOccurred())

		reqs := m.Requests(http.MethodPost, "/_bulk")
		Expect(reqs).To(HaveLen(1))

		body := string(reqs[0].Body)
		Expect(strings.Index(body, `"_id":"1"`)).To(BeNumerically("<", strings.Index(body, `"_id":"2"`)))
	})

	It("creates the index only when it is missing", func() {
		m.SetMissing("fresh")
		fresh := NewRepository[testDoc](c, "fresh")
		Expect(fresh.EnsureIndex(ctx, "")).To(Succeed())
		Expect(m.Requests(http.MethodPut, "/fresh")).To(HaveLen(1))

		Expect(repo.EnsureIndex(ctx, "")).To(Succeed())
		Expect(m.Requests(http.MethodPut, "/docs")).To(BeEmpty())
	})

	It("streams every document through the scroll pager and clears the scroll", func() {
		results, errs := repo.ScrollAll(ctx, elastic7.NewMatchAllQuery(), 10)

		var docs []testDoc
		for doc := range results {
			docs = append(docs, doc)
		}
		Expect(<-errs).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(2))
		Expect(docs[0].Name).To(Equal("alpha"))

		Expect(m.Requests(http.MethodDelete, "/_search/scroll")).To(HaveLen(1))
	})
})

var _ = Describe("Mock search client", func() {
	It("replays canned results through the search seam", func() {
		c := NewMockSearchClient([]interface{}{searchResultJSON})
		res, err := c.Search(ctx, func(s *elastic7.SearchService) { s.Index("docs") })
		Expect(err).NotTo(HaveOccurred())
		Expect(res.TotalHits()).To(Equal(int64(2)))
	})
})
