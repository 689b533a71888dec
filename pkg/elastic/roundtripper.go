// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tigera/es-bridge/pkg/metrics"
)

// instrumentedRoundTripper records request metrics for every call made to
// Elasticsearch and reports transport failures to the sniffer. It is the only
// observation point this layer adds to the request path; requests themselves
// pass through unchanged.
type instrumentedRoundTripper struct {
	defaultTransport http.RoundTripper

	// Invoked on transport failure. Must not block.
	onFailure func()
}

func (t *instrumentedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now().UTC()
	resp, err := t.defaultTransport.RoundTrip(req)

	metrics.ElasticResponseDuration.With(t.methodPathLabels(req)).Observe(time.Since(start).Seconds())
	metrics.ElasticResponseStatus.With(t.methodCodePathLabels(req, resp)).Inc()

	if err != nil {
		metrics.ElasticConnectionErrors.With(t.methodCodePathLabels(req, resp)).Inc()
		if t.onFailure != nil {
			t.onFailure()
		}
	}

	return resp, err
}

func (t *instrumentedRoundTripper) methodPathLabels(req *http.Request) prometheus.Labels {
	return prometheus.Labels{
		metrics.LabelPath:   t.minifiedPath(req),
		metrics.LabelMethod: req.Method,
	}
}

func (t *instrumentedRoundTripper) methodCodePathLabels(req *http.Request, resp *http.Response) prometheus.Labels {
	return prometheus.Labels{
		metrics.LabelMethod: req.Method,
		metrics.LabelCode:   t.responseCode(resp),
		metrics.LabelPath:   t.minifiedPath(req),
	}
}

func (t *instrumentedRoundTripper) responseCode(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	return strconv.Itoa(resp.StatusCode)
}

func (t *instrumentedRoundTripper) minifiedPath(req *http.Request) string {
	if strings.HasPrefix(req.URL.Path, "/_search/scroll") {
		return "/_search/scroll"
	}

	if strings.HasSuffix(req.URL.Path, "/_search") {
		return "/_search"
	}

	if strings.HasPrefix(req.URL.Path, "/_nodes") {
		return "/_nodes"
	}

	if strings.HasSuffix(req.URL.Path, "/_bulk") {
		return "/_bulk"
	}

	if strings.Contains(req.URL.Path, "/_doc") {
		return "/_doc"
	}

	return req.URL.Path
}
