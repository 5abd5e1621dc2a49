package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"lifeops/internal/core"
)

// Record is an entity that can be stored as a document.
type Record interface {
	Validate() error
	Envelope() *core.Meta
}

type recordPtr[T any] interface {
	*T
	Record
}

// Now is the clock used for entity timestamps.
var Now = func() time.Time { return time.Now().UTC() }

func decode[T any, P recordPtr[T]](doc Document) (T, error) {
	var v T
	if err := json.Unmarshal(doc.Body, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", doc.Collection, doc.Key, err)
	}
	meta := P(&v).Envelope()
	meta.Key = doc.Key
	meta.Family = doc.Family
	meta.Version = doc.Version
	if err := P(&v).Validate(); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", doc.Collection, doc.Key, err)
	}
	return v, nil
}

// Get loads and validates one entity.
func Get[T any, P recordPtr[T]](ctx context.Context, r Reader, c Collection, family, key string) (*T, error) {
	doc, err := r.Get(ctx, c, family, key)
	if err != nil {
		return nil, err
	}
	v, err := decode[T, P](doc)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Find loads every entity of c matching f, ordered by key.
func Find[T any, P recordPtr[T]](ctx context.Context, r Reader, c Collection, family string, f Filter) ([]T, error) {
	docs, err := r.Query(ctx, c, family, f)
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := decode[T, P](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Put validates rec, stamps its timestamps and writes it with its current
// version as the expected one. On success the record carries the new version.
func Put(ctx context.Context, w Writer, c Collection, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	meta := rec.Envelope()
	now := Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c, meta.Key, err)
	}
	version, err := w.Upsert(ctx, Document{
		Collection: c,
		Family:     meta.Family,
		Key:        meta.Key,
		Version:    meta.Version,
		Body:       body,
		UpdatedAt:  now,
	})
	if err != nil {
		return err
	}
	meta.Version = version
	return nil
}

// Translate maps store sentinels to domain errors for the given entity.
func Translate(err error, op, entity, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return core.NotFound(op, entity, key)
	case errors.Is(err, ErrVersionConflict):
		return core.Conflict(op, entity, key)
	}
	return err
}
