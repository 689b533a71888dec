// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"context"
	"fmt"

	"github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"
)

// Scroll continues a scrolling search: one synchronous call carrying the
// scroll identifier and a keep-alive of the given number of minutes. The
// scroll context must have been opened by a prior search requesting one.
func (c *client) Scroll(ctx context.Context, scrollID string, keepAliveMinutes int, opts ...RequestOptions) (*elastic.SearchResult, error) {
	s := c.Client.Scroll().
		ScrollId(scrollID).
		Scroll(fmt.Sprintf("%dm", keepAliveMinutes))
	if o := requestOptions(opts); len(o.Headers) > 0 {
		s = s.Headers(o.Headers)
	}

	res, err := s.Do(ctx)
	if err != nil {
		return nil, err
	}
	log.WithField("latency (ms)", res.TookInMillis).Debug("scroll success")
	return res, nil
}

// ClearScroll releases one or more server-side scroll contexts with a single
// request carrying the identifiers in order.
func (c *client) ClearScroll(ctx context.Context, scrollIDs []string, opts ...RequestOptions) (*elastic.ClearScrollResponse, error) {
	s := c.Client.ClearScroll(scrollIDs...)
	if o := requestOptions(opts); len(o.Headers) > 0 {
		s = s.Headers(o.Headers)
	}
	return s.Do(ctx)
}
