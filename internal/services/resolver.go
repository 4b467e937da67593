package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
	"golang.org/x/time/rate"
)

// MediaSource is a fetchable location for a track at a given quality.
type MediaSource struct {
	URL     string
	Headers map[string]string
	Quality models.Quality
}

// Resolver finds a playable source for a track.
//
// Implementations return an error wrapping [shared.ErrNoPlayableSource] when they have nothing for the
// requested quality so callers can move on to the next one.
type Resolver interface {
	Resolve(ctx context.Context, track models.Track, quality models.Quality) (*MediaSource, error)
}

// ResolverFunc adapts a function to [Resolver].
type ResolverFunc func(ctx context.Context, track models.Track, quality models.Quality) (*MediaSource, error)

func (f ResolverFunc) Resolve(ctx context.Context, track models.Track, quality models.Quality) (*MediaSource, error) {
	return f(ctx, track, quality)
}

// ObjectStoreResolver serves tracks stored in the object store through presigned URLs.
//
// Objects have a single rendition, so every quality resolves to the same URL.
type ObjectStoreResolver struct {
	presigner Presigner
}

// NewObjectStoreResolver creates a new ObjectStoreResolver.
func NewObjectStoreResolver(p Presigner) *ObjectStoreResolver {
	return &ObjectStoreResolver{presigner: p}
}

func (r *ObjectStoreResolver) Resolve(ctx context.Context, track models.Track, quality models.Quality) (*MediaSource, error) {
	if track.Platform() != models.ObjectStorePlatform {
		return nil, fmt.Errorf("%w: %s is not in the object store", shared.ErrNoPlayableSource, track.Key())
	}
	u, err := r.presigner.PresignURL(ctx, track.ID())
	if err != nil {
		return nil, err
	}
	return &MediaSource{URL: u, Quality: quality}, nil
}

// TemplateResolver builds source URLs from a template with {platform}, {id}, {quality}, {title} and {artist}
// placeholders. Values are path-escaped.
type TemplateResolver struct {
	template string
}

// NewTemplateResolver creates a new TemplateResolver.
func NewTemplateResolver(template string) *TemplateResolver {
	return &TemplateResolver{template: template}
}

func (r *TemplateResolver) Resolve(ctx context.Context, track models.Track, quality models.Quality) (*MediaSource, error) {
	if r.template == "" {
		return nil, fmt.Errorf("%w: no url template configured", shared.ErrNoPlayableSource)
	}
	if track.IsLocal() {
		return nil, fmt.Errorf("%w: %s is a local file", shared.ErrNoPlayableSource, track.Key())
	}

	replacer := strings.NewReplacer(
		"{platform}", url.PathEscape(track.Platform()),
		"{id}", url.PathEscape(track.ID()),
		"{quality}", url.PathEscape(string(quality)),
		"{title}", url.PathEscape(track.Title),
		"{artist}", url.PathEscape(track.Artist),
	)
	return &MediaSource{URL: replacer.Replace(r.template), Quality: quality}, nil
}

// ChainResolver asks each resolver in turn and returns the first source found.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, track models.Track, quality models.Quality) (*MediaSource, error) {
	var errs []error
	for _, r := range c {
		src, err := r.Resolve(ctx, track, quality)
		if err == nil && src != nil {
			return src, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return nil, fmt.Errorf("%w: %s at %s: %v", shared.ErrNoPlayableSource, track.Key(), quality, errors.Join(errs...))
}

// RateLimitedResolver throttles calls to the wrapped resolver.
type RateLimitedResolver struct {
	next    Resolver
	limiter *rate.Limiter
}

// NewRateLimitedResolver creates a new RateLimitedResolver allowing perSecond calls. A non-positive rate
// returns next unchanged.
func NewRateLimitedResolver(next Resolver, perSecond float64) Resolver {
	if perSecond <= 0 {
		return next
	}
	return &RateLimitedResolver{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (r *RateLimitedResolver) Resolve(ctx context.Context, track models.Track, quality models.Quality) (*MediaSource, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Resolve(ctx, track, quality)
}
