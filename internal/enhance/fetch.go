package enhance

import (
	"context"

	"github.com/Lllllllleong/docimageenhancer/internal/imaging"
	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// imageJob is one describable image waiting to be fetched.
type imageJob struct {
	section int
	ordinal int
	target  string
	loc     models.Location
}

// normalizedImage is a fetched image re-encoded to the canonical format. It is
// owned by the worker that produced it until handed to the describe stage.
type normalizedImage struct {
	job  imageJob
	data []byte
}

// fetchAll fetches and normalizes jobs in chunks of FetchChunkSize so that at
// most one chunk of raw image payloads is resident at a time. Failed images
// are logged and dropped.
func (p *Pipeline) fetchAll(ctx context.Context, run *run, jobs []imageJob) []normalizedImage {
	var out []normalizedImage
	for start := 0; start < len(jobs); start += p.cfg.FetchChunkSize {
		end := min(start+p.cfg.FetchChunkSize, len(jobs))
		chunk := jobs[start:end]
		run.stats.FetchChunks++

		images := runPool(ctx, run.logger, "download", p.cfg.DownloadPool, chunk, func(ctx context.Context, job imageJob) (normalizedImage, bool) {
			return p.fetchOne(ctx, run, job)
		})
		out = append(out, images...)
		run.logger.Info("Fetched image chunk.", "chunk", run.stats.FetchChunks, "requested", len(chunk), "normalized", len(images))
	}
	run.stats.ImagesNormalized = len(out)
	return out
}

func (p *Pipeline) fetchOne(ctx context.Context, run *run, job imageJob) (normalizedImage, bool) {
	raw, err := p.store.Read(ctx, job.loc)
	if err != nil {
		run.logger.Warn("Failed to fetch image; it will stay undescribed.", "image", job.loc.URI(), "section", job.section, "error", err)
		return normalizedImage{}, false
	}

	data, format, err := imaging.Normalize(raw)
	if err != nil {
		run.logger.Warn("Failed to normalize image; it will stay undescribed.", "image", job.loc.URI(), "section", job.section, "error", err)
		return normalizedImage{}, false
	}
	if format != imaging.CanonicalFormat {
		run.logger.Debug("Re-encoded image.", "image", job.loc.URI(), "from", format, "to", imaging.CanonicalFormat)
	}
	return normalizedImage{job: job, data: data}, true
}
