package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/client"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
)

// EntityLookup fetches single entities. client.Client implements it.
type EntityLookup interface {
	GetWork(ctx context.Context, id openalex.ID) (*openalex.Work, error)
	GetAuthor(ctx context.Context, id openalex.ID) (*openalex.AuthorProfile, error)
}

var errNoLookup = errors.New("entity lookup not configured")

// Work returns one work. An id OpenAlex does not know is ErrNoData.
func (s *Service) Work(ctx context.Context, id openalex.ID) (w *openalex.Work, err error) {
	ctx, done := s.begin(ctx, "work")
	defer func() { done(err) }()

	if id.Namespace() != openalex.NamespaceWork {
		return nil, fmt.Errorf("%w: %q is not a work id", ErrInvalidRequest, id)
	}
	if s.lookup == nil {
		return nil, errNoLookup
	}

	key := cache.Key{Namespace: "work", Params: map[string]string{"id": string(id)}}.String()
	var cached openalex.Work
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	w, err = s.lookup.GetWork(ctx, id)
	if err != nil {
		return nil, lookupError("work", id, err)
	}
	s.cacheSet(ctx, key, w)
	return w, nil
}

// Author returns one author profile. An id OpenAlex does not know is
// ErrNoData.
func (s *Service) Author(ctx context.Context, id openalex.ID) (a *openalex.AuthorProfile, err error) {
	ctx, done := s.begin(ctx, "author")
	defer func() { done(err) }()

	if id.Namespace() != openalex.NamespaceAuthor {
		return nil, fmt.Errorf("%w: %q is not an author id", ErrInvalidRequest, id)
	}
	if s.lookup == nil {
		return nil, errNoLookup
	}

	key := cache.Key{Namespace: "author", Params: map[string]string{"id": string(id)}}.String()
	var cached openalex.AuthorProfile
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	a, err = s.lookup.GetAuthor(ctx, id)
	if err != nil {
		return nil, lookupError("author", id, err)
	}
	s.cacheSet(ctx, key, a)
	return a, nil
}

func lookupError(kind string, id openalex.ID, err error) error {
	if client.IsNotFound(err) {
		return fmt.Errorf("%w: %s %s not found", ErrNoData, kind, id)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}
