package enhance

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// Tier classifies an image reference.
type Tier int

const (
	// TierIneligibleSmall references are removed from the document.
	TierIneligibleSmall Tier = iota
	// TierNonDescribable references are kept but not sent for description.
	TierNonDescribable
	// TierDescribable references are kept and described.
	TierDescribable
	// TierAlreadyExternal references point outside our storage and are left alone.
	TierAlreadyExternal
)

func (t Tier) String() string {
	switch t {
	case TierIneligibleSmall:
		return "ineligible-small"
	case TierNonDescribable:
		return "non-describable"
	case TierDescribable:
		return "describable"
	case TierAlreadyExternal:
		return "already-external"
	}
	return "unknown"
}

// Resolution is the outcome of resolving one embed target.
type Resolution struct {
	Tier         Tier
	Location     models.Location
	CanonicalURL string
	Size         int64
}

// Resolver maps embed targets of one document to storage locations and tiers.
type Resolver struct {
	store         BlobStore
	doc           models.Location
	publicBaseURL string
	minKeep       int64
	minDescribe   int64
	logger        *slog.Logger
}

// NewResolver creates a resolver for the document stored at doc.
func NewResolver(store BlobStore, doc models.Location, cfg Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:         store,
		doc:           doc,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		minKeep:       cfg.MinKeepBytes,
		minDescribe:   cfg.MinDescribeBytes,
		logger:        logger,
	}
}

// IsAbsoluteURL reports whether target is already a fetchable http(s) URL.
func IsAbsoluteURL(target string) bool {
	return strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://")
}

// CanonicalURL returns the public URL of an object key.
func (r *Resolver) CanonicalURL(loc models.Location) string {
	segments := strings.Split(loc.Key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.publicBaseURL + "/" + strings.Join(segments, "/")
}

// locationFromCanonical reverses CanonicalURL for URLs under our public base.
func (r *Resolver) locationFromCanonical(target string) (models.Location, bool) {
	rest, ok := strings.CutPrefix(target, r.publicBaseURL+"/")
	if !ok || rest == "" {
		return models.Location{}, false
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return models.Location{}, false
	}
	return models.Location{Bucket: r.doc.Bucket, Key: key}, true
}

// Resolve classifies target. Failing to read the object size is treated as
// TierIneligibleSmall and logged; it is never returned as an error.
func (r *Resolver) Resolve(ctx context.Context, target string) Resolution {
	var loc models.Location
	if IsAbsoluteURL(target) {
		canonical, ok := r.locationFromCanonical(target)
		if !ok {
			return Resolution{Tier: TierAlreadyExternal, CanonicalURL: target}
		}
		loc = canonical
	} else {
		loc = r.doc.ImageSibling(target)
	}

	res := Resolution{Location: loc, CanonicalURL: r.CanonicalURL(loc)}
	size, err := r.store.Size(ctx, loc)
	if err != nil {
		r.logger.Warn("Could not read image size; treating as too small.", "image", loc.URI(), "error", err)
		res.Tier = TierIneligibleSmall
		return res
	}
	res.Size = size

	switch {
	case size < r.minKeep:
		res.Tier = TierIneligibleSmall
	case size < r.minDescribe:
		res.Tier = TierNonDescribable
	default:
		res.Tier = TierDescribable
	}
	return res
}
