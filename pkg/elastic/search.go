// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"context"
	"net/http"
	"net/url"

	"github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"
)

// RequestOptions is the opaque per-call configuration bag accepted by every
// request helper. Headers are attached to the underlying request; Params are
// appended to the raw request path on the direct-search helpers. The meaning
// of individual values is defined by Elasticsearch, not by this layer.
type RequestOptions struct {
	Headers http.Header
	Params  url.Values
}

// DefaultRequestOptions is used by every helper when no options are supplied.
var DefaultRequestOptions = RequestOptions{}

func requestOptions(opts []RequestOptions) RequestOptions {
	if len(opts) == 0 {
		return DefaultRequestOptions
	}
	return opts[0]
}

// Search builds a search request, applies the caller's configuration and
// issues exactly one synchronous search. Transport errors propagate unchanged.
func (c *client) Search(ctx context.Context, apply func(*elastic.SearchService), opts ...RequestOptions) (*elastic.SearchResult, error) {
	s := c.Client.Search()
	if o := requestOptions(opts); len(o.Headers) > 0 {
		s = s.Headers(o.Headers)
	}
	if apply != nil {
		apply(s)
	}

	res, err := c.Do(ctx, s)
	if err != nil {
		return nil, err
	}
	log.WithField("latency (ms)", res.TookInMillis).Debug("search success")
	return res, nil
}

// SearchAsync issues the same search asynchronously. The result is obtained
// by awaiting the returned pending call; cancelling the waiter aborts the
// in-flight request.
func (c *client) SearchAsync(ctx context.Context, apply func(*elastic.SearchService), opts ...RequestOptions) *Pending[*elastic.SearchResult] {
	return goPending(ctx, func(ctx context.Context) (*elastic.SearchResult, error) {
		return c.Search(ctx, apply, opts...)
	})
}
