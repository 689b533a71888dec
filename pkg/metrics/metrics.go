// Copyright (c) 2024 Tigera, Inc. All rights reserved.
//

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(ElasticResponseDuration)
	prometheus.MustRegister(ElasticResponseStatus)
	prometheus.MustRegister(ElasticConnectionErrors)
}

const (
	LabelPath   = "path"
	LabelCode   = "code"
	LabelMethod = "method"
)

var (
	histogramBuckets = []float64{.1, .25, .5, 1, 5, 10}

	// ElasticResponseDuration will track the duration of Elasticsearch responses
	// broken down by path and method
	ElasticResponseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tigera",
		Subsystem: "esbridge",
		Name:      "elastic_response_duration_seconds",
		Help:      "Duration of the Elasticsearch responses.",
		Buckets:   histogramBuckets,
	}, []string{LabelPath, LabelMethod})

	// ElasticResponseStatus will track the status codes returned by Elasticsearch
	// broken down by path, method and code
	ElasticResponseStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tigera",
		Subsystem: "esbridge",
		Name:      "elastic_response_status",
		Help:      "Status codes returned by Elasticsearch.",
	}, []string{LabelPath, LabelMethod, LabelCode})

	// ElasticConnectionErrors will track the number of failed requests to Elasticsearch
	// broken down by path, method and code
	ElasticConnectionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tigera",
		Subsystem: "esbridge",
		Name:      "elastic_connection_errors",
		Help:      "Number of failed requests to Elasticsearch.",
	}, []string{LabelPath, LabelMethod, LabelCode})
)
