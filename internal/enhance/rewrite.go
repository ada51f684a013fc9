package enhance

import (
	"context"
	"strings"

	"github.com/Lllllllleong/docimageenhancer/internal/markdown"
)

type rewriteResult struct {
	original    string
	replacement string
	tier        Tier
}

// rewriteReferences resolves every distinct embed of doc in parallel and
// applies all replacements in a single pass keyed by the exact embed text.
// Too-small images are removed, kept images point at their canonical URL and
// absolute URLs are left untouched. Byte-identical embeds share one replacement.
func (p *Pipeline) rewriteReferences(ctx context.Context, run *run, doc string) string {
	markers := markdown.ScanMarkers(doc)
	if len(markers) == 0 {
		return doc
	}

	seen := make(map[string]bool, len(markers))
	unique := make([]markdown.Marker, 0, len(markers))
	for _, m := range markers {
		if seen[m.Raw] {
			continue
		}
		seen[m.Raw] = true
		unique = append(unique, m)
	}

	results := runPool(ctx, run.logger, "rewrite", p.cfg.RewritePool, unique, func(ctx context.Context, m markdown.Marker) (rewriteResult, bool) {
		if IsAbsoluteURL(m.Target) {
			return rewriteResult{original: m.Raw, replacement: m.Raw, tier: TierAlreadyExternal}, true
		}
		res := run.resolver.Resolve(ctx, m.Target)
		switch res.Tier {
		case TierIneligibleSmall:
			run.logger.Info("Image too small; removing reference.", "image", res.Location.URI(), "size", res.Size)
			return rewriteResult{original: m.Raw, replacement: "", tier: res.Tier}, true
		case TierAlreadyExternal:
			return rewriteResult{original: m.Raw, replacement: m.Raw, tier: res.Tier}, true
		default:
			return rewriteResult{
				original:    m.Raw,
				replacement: "![" + m.Alt + "](" + res.CanonicalURL + ")",
				tier:        res.Tier,
			}, true
		}
	})

	byRaw := make(map[string]rewriteResult, len(results))
	oldnew := make([]string, 0, 2*len(results))
	for _, r := range results {
		byRaw[r.original] = r
		if r.replacement != r.original {
			oldnew = append(oldnew, r.original, r.replacement)
		}
	}

	for _, m := range markers {
		r, ok := byRaw[m.Raw]
		if !ok {
			continue
		}
		switch r.tier {
		case TierIneligibleSmall:
			run.stats.MarkersRemoved++
		case TierAlreadyExternal:
			run.stats.MarkersExternal++
		default:
			run.stats.MarkersRewritten++
		}
	}

	if len(oldnew) == 0 {
		return doc
	}
	return strings.NewReplacer(oldnew...).Replace(doc)
}
