// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olivere/elastic/v7"
	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
)

// Document is a typed document stored by a Repository. DocID may return blank,
// in which case an identifier is generated on indexing.
type Document interface {
	DocID() string
}

// Repository maps typed documents onto index operations against a single
// index. All request semantics (versioning, refresh policy, routing) are the
// wrapped client's; the repository only builds requests and decodes sources.
type Repository[T Document] struct {
	client Client
	index  string
}

func NewRepository[T Document](c Client, index string) *Repository[T] {
	return &Repository[T]{
		client: c,
		index:  index,
	}
}

// Index returns the index name this repository operates on.
func (r *Repository[T]) Index() string {
	return r.index
}

// EnsureIndex creates the index if it does not exist, retrying a bounded
// number of times. mapping may be blank to create the index with defaults.
func (r *Repository[T]) EnsureIndex(ctx context.Context, mapping string) error {
	var lastErr error
	for i := 0; i < createIndexMaxRetries; i++ {
		exists, err := r.client.Backend().IndexExists(r.index).Do(ctx)
		if err == nil && exists {
			return nil
		}
		if err == nil {
			create := r.client.Backend().CreateIndex(r.index)
			if mapping != "" {
				create = create.Body(mapping)
			}
			if _, err = create.Do(ctx); err == nil {
				log.WithField("index", r.index).Info("successfully created index")
				return nil
			}
			// Another writer may have created the index in the meantime.
			if elastic.IsConflict(err) {
				return nil
			}
		}
		lastErr = err
		log.WithError(err).WithField("attempts", createIndexMaxRetries-i).Warning("Index creation failed, retrying")
		time.Sleep(createIndexRetryInterval)
	}
	return lastErr
}

// Store indexes the document, generating an identifier when the document does
// not carry one, and returns the identifier under which it was stored.
func (r *Repository[T]) Store(ctx context.Context, doc T) (string, error) {
	id := doc.DocID()
	if id == "" {
		id = uuid.NewV4().String()
	}

	res, err := r.client.Backend().Index().
		Index(r.index).
		Id(id).
		BodyJson(doc).
		Do(ctx)
	if err != nil {
		log.WithError(err).Error("failed to store document")
		return "", err
	}
	log.WithFields(log.Fields{"id": res.Id, "index": res.Index}).
		Debug("successfully stored document")
	return res.Id, nil
}

// Get retrieves the document stored under id. Missing documents surface the
// wrapped client's not-found error unchanged.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var doc T
	res, err := r.client.Backend().Get().
		Index(r.index).
		Id(id).
		Do(ctx)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(res.Source, &doc); err != nil {
		log.WithFields(log.Fields{"index": r.index, "id": id}).WithError(err).Error("failed to unmarshal document")
		return doc, err
	}
	return doc, nil
}

// Delete removes the document stored under id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	_, err := r.client.Backend().Delete().
		Index(r.index).
		Id(id).
		Do(ctx)
	return err
}

// Bulk indexes the documents with a single bulk request, preserving order.
// Item-level failures are collapsed into one error; there are no retries.
func (r *Repository[T]) Bulk(ctx context.Context, docs []T) error {
	if len(docs) == 0 {
		return nil
	}

	bulk := r.client.Backend().Bulk()
	for _, doc := range docs {
		id := doc.DocID()
		if id == "" {
			id = uuid.NewV4().String()
		}
		bulk = bulk.Add(elastic.NewBulkIndexRequest().Index(r.index).Id(id).Doc(doc))
	}

	res, err := bulk.Do(ctx)
	if err != nil {
		return err
	}
	if res.Errors {
		failed := res.Failed()
		reason := ""
		if len(failed) > 0 && failed[0].Error != nil {
			reason = failed[0].Error.Reason
		}
		return fmt.Errorf("bulk index of %d documents had %d failures (first: %s)", len(docs), len(failed), reason)
	}
	return nil
}

// Search returns up to size documents matching query.
func (r *Repository[T]) Search(ctx context.Context, query elastic.Query, size int) ([]T, error) {
	res, err := r.client.Search(ctx, func(s *elastic.SearchService) {
		s.Index(r.index).Size(size)
		if query != nil {
			s.Query(query)
		}
	})
	if err != nil {
		return nil, err
	}

	docs := make([]T, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var doc T
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			log.WithFields(log.Fields{"index": hit.Index, "id": hit.Id}).WithError(err).Warn("Failed to unmarshal document")
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ScrollAll streams every document matching query through the returned
// channel, fetching pageSize documents per scroll request. The channels are
// closed once the scroll is exhausted, fails, or ctx is done.
func (r *Repository[T]) ScrollAll(ctx context.Context, query elastic.Query, pageSize int) (<-chan T, <-chan error) {
	results := make(chan T, pageSize)
	errs := make(chan error, 1)

	go func() {
		defer close(results)
		defer close(errs)

		scroll := r.client.Backend().Scroll(r.index).Size(pageSize)
		if query != nil {
			scroll = scroll.Query(query)
		}

		// We only terminate the scroll when there are no more results to
		// scroll through.
		for {
			res, err := scroll.Do(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				log.WithError(err).Error("Failed to scroll documents")
				errs <- err
				return
			}
			log.WithField("latency (ms)", res.TookInMillis).Debug("scroll page success")

			for _, hit := range res.Hits.Hits {
				var doc T
				if err := json.Unmarshal(hit.Source, &doc); err != nil {
					log.WithFields(log.Fields{"index": hit.Index, "id": hit.Id}).WithError(err).Warn("Failed to unmarshal document")
					continue
				}
				select {
				case results <- doc:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}

		if err := scroll.Clear(ctx); err != nil {
			log.WithError(err).Info("Failed to clear scroll context")
		}
	}()

	return results, errs
}
