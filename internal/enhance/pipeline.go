package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Lllllllleong/docimageenhancer/internal/imaging"
	"github.com/Lllllllleong/docimageenhancer/internal/markdown"
	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// Pipeline augments converted documents with descriptions of their images.
// A Pipeline is safe for concurrent use; each Enhance call keeps its own state.
type Pipeline struct {
	cfg       Config
	store     BlobStore
	describer *Describer
	logger    *slog.Logger
}

// NewPipeline validates cfg and builds a pipeline around the given collaborators.
func NewPipeline(cfg Config, store BlobStore, model VisionModel, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if store == nil || model == nil {
		return nil, fmt.Errorf("blob store and vision model must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		describer: NewDescriber(model, cfg, logger),
		logger:    logger,
	}, nil
}

// run is the per-document state of one Enhance call.
type run struct {
	resolver *Resolver
	logger   *slog.Logger
	stats    models.EnhanceStats
}

// sectionImages is a section that has at least one describable image.
type sectionImages struct {
	section markdown.Section
	context string
	jobs    []imageJob
}

// describeTask is the unit of work of the analyze stage.
type describeTask struct {
	section markdown.Section
	context string
	images  []normalizedImage
}

type describedSection struct {
	index int
	text  string
	added int
}

// Enhance rewrites the image references of text, the document stored at doc,
// and splices generated descriptions after describable images. Single image
// and single section failures are logged and degrade to "no description";
// Enhance always returns the best document it could produce.
func (p *Pipeline) Enhance(ctx context.Context, doc models.Location, text string) (string, models.EnhanceStats) {
	r := &run{
		resolver: NewResolver(p.store, doc, p.cfg, p.logger),
		logger:   p.logger.With("document", doc.URI()),
	}

	rewritten := p.rewriteReferences(ctx, r, text)
	r.logger.Info("Image references rewritten.",
		"rewritten", r.stats.MarkersRewritten,
		"removed", r.stats.MarkersRemoved,
		"external", r.stats.MarkersExternal,
	)

	sections := markdown.SplitSections(rewritten)
	r.stats.Sections = len(sections)
	var withImages []markdown.Section
	for _, s := range sections {
		if s.HasImages() {
			withImages = append(withImages, s)
		}
	}
	r.stats.SectionsWithImages = len(withImages)
	if len(withImages) == 0 {
		return rewritten, r.stats
	}

	// Extract: resolve every embed of every section and keep the describable ones.
	infos := runPool(ctx, r.logger, "extract", p.cfg.ExtractPool, withImages, func(ctx context.Context, s markdown.Section) (sectionImages, bool) {
		return p.extractImageInfo(ctx, r, s)
	})
	if len(infos) == 0 {
		r.logger.Info("No describable images found.")
		return rewritten, r.stats
	}

	var jobs []imageJob
	for _, info := range infos {
		jobs = append(jobs, info.jobs...)
	}
	r.stats.DescribableImages = len(jobs)

	// Download: chunked fetch and normalize.
	fetched := p.fetchAll(ctx, r, jobs)
	if len(fetched) == 0 {
		r.logger.Warn("No describable image could be fetched.", "describable", r.stats.DescribableImages)
		return rewritten, r.stats
	}

	tasks := groupBySection(infos, fetched)

	// Analyze: one describe call per section.
	described := runPool(ctx, r.logger, "analyze", p.cfg.AnalyzePool, tasks, func(ctx context.Context, t *describeTask) (describedSection, bool) {
		return p.describeSection(ctx, r, t)
	})

	replaced := make(map[int]string, len(described))
	for _, d := range described {
		replaced[d.index] = d.text
		r.stats.DescriptionsAdded += d.added
		r.stats.SectionsDescribed++
	}

	r.logger.Info("Image descriptions spliced.",
		"sectionsDescribed", r.stats.SectionsDescribed,
		"descriptionsAdded", r.stats.DescriptionsAdded,
	)
	return markdown.Rebuild(sections, replaced), r.stats
}

// extractImageInfo resolves the embeds of one section. Image ordinals count
// every embed of the section, so [imageN] in the context always refers to the
// N-th embed whether or not it is describable.
func (p *Pipeline) extractImageInfo(ctx context.Context, r *run, s markdown.Section) (sectionImages, bool) {
	var jobs []imageJob
	for i, m := range s.Markers {
		res := r.resolver.Resolve(ctx, m.Target)
		if res.Tier != TierDescribable {
			r.logger.Debug("Skipping image for description.", "section", s.Index, "target", m.Target, "tier", res.Tier.String())
			continue
		}
		jobs = append(jobs, imageJob{
			section: s.Index,
			ordinal: i + 1,
			target:  m.Target,
			loc:     res.Location,
		})
	}
	if len(jobs) == 0 {
		return sectionImages{}, false
	}
	return sectionImages{
		section: s,
		context: markdown.WithPlaceholders(s.Text),
		jobs:    jobs,
	}, true
}

// groupBySection regroups fetched images under their sections, ordered by
// ordinal, dropping sections whose images all failed to fetch.
func groupBySection(infos []sectionImages, fetched []normalizedImage) []*describeTask {
	bySection := make(map[int][]normalizedImage)
	for _, img := range fetched {
		bySection[img.job.section] = append(bySection[img.job.section], img)
	}

	tasks := make([]*describeTask, 0, len(bySection))
	for _, info := range infos {
		images := bySection[info.section.Index]
		if len(images) == 0 {
			continue
		}
		sort.Slice(images, func(i, j int) bool { return images[i].job.ordinal < images[j].job.ordinal })
		tasks = append(tasks, &describeTask{
			section: info.section,
			context: info.context,
			images:  images,
		})
	}
	return tasks
}

func (p *Pipeline) describeSection(ctx context.Context, r *run, t *describeTask) (describedSection, bool) {
	logger := r.logger.With("section", t.section.Index)

	visionImages := make([]models.VisionImage, 0, len(t.images))
	for _, img := range t.images {
		visionImages = append(visionImages, models.VisionImage{
			Key:      markdown.ImageKey(img.job.ordinal),
			MIMEType: imaging.CanonicalMIMEType,
			Data:     img.data,
		})
	}
	// The payloads are only needed for the call below.
	t.images = nil

	result := p.describer.Describe(ctx, logger, t.context, visionImages)

	// Only the images that were sent may receive a description.
	descriptions := make(map[string]string, len(visionImages))
	for _, img := range visionImages {
		if desc := strings.TrimSpace(result[img.Key]); desc != "" {
			descriptions[img.Key] = desc
		}
	}
	if len(descriptions) == 0 {
		return describedSection{}, false
	}
	return describedSection{
		index: t.section.Index,
		text:  markdown.Splice(t.section.Text, descriptions),
		added: len(descriptions),
	}, true
}
