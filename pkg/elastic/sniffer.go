// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"
)

const snifferRequestTimeout = 5 * time.Second

// Sniffer is the background node refresh task started by the factory when
// sniffing is enabled. It refreshes on a fixed interval and, when a transport
// failure is observed, again after the configured failure delay. The actual
// node-list update is performed by the wrapped client's own discovery; the
// refresh here exercises the connection pool so dead nodes are noticed
// without waiting for the next periodic pass.
//
// Failure-triggered refresh is wired independently of whether credentials
// were configured.
type Sniffer struct {
	es           *elastic.Client
	interval     time.Duration
	afterFailure time.Duration

	failures chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// refresh is replaceable for testing.
	refresh func()
}

func newSniffer(afterFailure, interval time.Duration) *Sniffer {
	s := &Sniffer{
		interval:     interval,
		afterFailure: afterFailure,
		failures:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	s.refresh = s.refreshNodes
	return s
}

// bind attaches the sniffer to the client whose transport it refreshes. Must
// be called before Start.
func (s *Sniffer) bind(es *elastic.Client) {
	s.es = es
}

// Interval returns the periodic refresh interval.
func (s *Sniffer) Interval() time.Duration {
	return s.interval
}

// AfterFailureDelay returns the delay between an observed transport failure
// and the refresh it triggers.
func (s *Sniffer) AfterFailureDelay() time.Duration {
	return s.afterFailure
}

// NotifyFailure records a transport failure. Non-blocking; coalesces with any
// failure already pending.
func (s *Sniffer) NotifyFailure() {
	select {
	case s.failures <- struct{}{}:
	default:
	}
}

// Start runs the refresh loop until Stop is called.
func (s *Sniffer) Start() {
	log.WithFields(log.Fields{
		"interval":     s.interval,
		"afterFailure": s.afterFailure,
	}).Info("Starting Elastic node sniffer")
	go s.loop()
}

// Stop terminates the refresh loop. Idempotent.
func (s *Sniffer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Sniffer) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.refresh()
		case <-s.failures:
			timer := time.NewTimer(s.afterFailure)
			select {
			case <-s.done:
				timer.Stop()
				return
			case <-timer.C:
				s.refresh()
			}
		}
	}
}

func (s *Sniffer) refreshNodes() {
	ctx, cancel := context.WithTimeout(context.Background(), snifferRequestTimeout)
	defer cancel()

	_, err := s.es.PerformRequest(ctx, elastic.PerformRequestOptions{
		Method: http.MethodGet,
		Path:   "/_nodes/http",
	})
	if err != nil {
		log.WithError(err).Warn("Elastic node refresh failed")
		return
	}
	log.Debug("Elastic node refresh succeeded")
}
