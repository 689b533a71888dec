// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/olivere/elastic/v7"

	"github.com/tigera/es-bridge/pkg/httputils"
)

// SearchDirect bypasses the structured request objects entirely: it sends the
// raw JSON body to POST {endpoint}/_search on the configured node, reads the
// response in full, and either decodes it into a search result (status 200)
// or fails with an error carrying the literal status line and raw body text.
// This is the only place this layer manufactures its own error.
//
// The request deliberately skips the wrapped client's request path, so basic
// auth is re-attached here from the factory configuration.
func (c *client) SearchDirect(ctx context.Context, endpoint, body string, opts ...RequestOptions) (*elastic.SearchResult, error) {
	raw, resp, err := c.performDirect(ctx, endpoint, body, requestOptions(opts))
	if err != nil {
		return nil, err
	}
	return decodeSearchResult(resp, raw)
}

// SearchAsyncDirect is the asynchronous variant of SearchDirect. The response
// bytes are read in full on the issuing goroutine before the response is
// released, and the conversion into a typed result runs there too, not on the
// waiter's goroutine.
func (c *client) SearchAsyncDirect(ctx context.Context, endpoint, body string, opts ...RequestOptions) *Pending[*elastic.SearchResult] {
	o := requestOptions(opts)
	return goPending(ctx, func(ctx context.Context) (*elastic.SearchResult, error) {
		raw, resp, err := c.performDirect(ctx, endpoint, body, o)
		if err != nil {
			return nil, err
		}
		return decodeSearchResult(resp, raw)
	})
}

// performDirect issues the raw request and returns the fully read body along
// with the response status. The body is read before the response is closed.
func (c *client) performDirect(ctx context.Context, endpoint, body string, o RequestOptions) ([]byte, *http.Response, error) {
	if c.cfg == nil {
		return nil, nil, errors.New("no endpoint configured for direct search")
	}

	u := *c.cfg.URL()
	u.Path = joinPath(endpoint, "_search")
	if len(o.Params) > 0 {
		u.RawQuery = o.Params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range o.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.cfg.ElasticUsername != "" {
		req.SetBasicAuth(c.cfg.ElasticUsername, c.cfg.ElasticPassword)
	}

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return raw, resp, nil
}

func decodeSearchResult(resp *http.Response, raw []byte) (*elastic.SearchResult, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, httputils.NewStatusError(resp.StatusCode, resp.Status, string(raw))
	}

	result := new(elastic.SearchResult)
	decoder := &elastic.DefaultDecoder{}
	if err := decoder.Decode(raw, result); err != nil {
		return nil, err
	}
	return result, nil
}
