package completion

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// Fetcher downloads an artifact to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dst string) (int64, error)
}

// Uploader stores a local file under a key in durable output storage.
type Uploader interface {
	PutFile(ctx context.Context, key, srcPath string) (string, error)
}

// Watermarker writes an overlaid copy of src to dst.
type Watermarker interface {
	Apply(ctx context.Context, src, dst string) error
}

// PlanLookup reports the owner's billing plan.
type PlanLookup interface {
	Plan(ctx context.Context, userID string) (domain.UserPlan, error)
}

// WatermarkTracker records that a job entered the watermarking step.
type WatermarkTracker interface {
	MarkWatermarking(ctx context.Context, jobID string) (*domain.Job, error)
}

// ArtifactDelivery downloads, optionally watermarks, and uploads a render.
// No database transaction is held while it runs.
type ArtifactDelivery struct {
	Fetch     Fetcher
	Upload    Uploader
	Watermark Watermarker
	Plans     PlanLookup
	Tracker   WatermarkTracker
	// TempDir is the parent of per-job scratch directories; empty means os.TempDir.
	TempDir string
	Logger  infra.Logger
}

// OutputKey is the storage key of a job's final artifact.
func OutputKey(job domain.Job) string {
	return path.Join("renders", job.UserID, job.ID+".mp4")
}

// Deliver implements Deliverer.
func (d *ArtifactDelivery) Deliver(ctx context.Context, job domain.Job, sourceURL string) (string, error) {
	dir, err := os.MkdirTemp(d.TempDir, "render-"+job.ID+"-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source.mp4")
	n, err := d.Fetch.Fetch(ctx, sourceURL, src)
	if err != nil {
		return "", err
	}
	d.Logger.Debug().Str("job_id", job.ID).Int64("bytes", n).Msg("delivery: artifact downloaded")

	plan, err := d.Plans.Plan(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("lookup plan: %w", err)
	}

	final := src
	if plan != domain.UserPlanPro {
		if _, err := d.Tracker.MarkWatermarking(ctx, job.ID); err != nil {
			return "", err
		}
		final = filepath.Join(dir, "watermarked.mp4")
		if err := d.Watermark.Apply(ctx, src, final); err != nil {
			return "", err
		}
		d.Logger.Debug().Str("job_id", job.ID).Msg("delivery: watermark applied")
	}

	key, err := d.Upload.PutFile(ctx, OutputKey(job), final)
	if err != nil {
		return "", err
	}
	return key, nil
}

var _ Deliverer = (*ArtifactDelivery)(nil)
