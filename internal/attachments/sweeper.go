package attachments

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/converso-ai/converso/internal/events"
	"github.com/converso-ai/converso/internal/metrics"
	"github.com/converso-ai/converso/internal/quota"
)

// Sweeper deletes attachments whose age strictly exceeds the retention
// window of the owner's tier. Each attachment is handled independently: one
// failed deletion is logged and counted but never aborts the sweep, so
// cleanup is best effort and eventually consistent.
type Sweeper struct {
	repo     Repository
	blobs    BlobStore
	resolver quota.Resolver
	pub      *events.Publisher

	// minRetentionDays prefilters candidates: no attachment younger than
	// the shortest window of any tier can be eligible.
	minRetentionDays int
	batchSize        int
	now              func() time.Time
	logger           *slog.Logger
}

// NewSweeper creates a retention Sweeper. pub may be nil.
func NewSweeper(repo Repository, blobs BlobStore, resolver quota.Resolver, pub *events.Publisher, minRetentionDays, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Sweeper{
		repo:             repo,
		blobs:            blobs,
		resolver:         resolver,
		pub:              pub,
		minRetentionDays: minRetentionDays,
		batchSize:        batchSize,
		now:              time.Now,
		logger:           slog.Default().With("component", "attachments.sweeper"),
	}
}

// Sweep runs one full pass over eligible attachments and returns a summary.
// The returned error is only set when the candidate listing itself fails;
// per-attachment failures are reflected in the summary.
func (s *Sweeper) Sweep(ctx context.Context) (SweepSummary, error) {
	now := s.now()
	cutoff := now.AddDate(0, 0, -s.minRetentionDays)

	var summary SweepSummary
	retention := make(map[uuid.UUID]int) // per-user window, cached for the pass
	afterID := uuid.Nil

	for {
		batch, err := s.repo.ListOlderThan(ctx, cutoff, afterID, s.batchSize)
		if err != nil {
			return summary, err
		}
		if len(batch) == 0 {
			break
		}

		for _, att := range batch {
			afterID = att.ID
			summary.Scanned++

			days, ok := retention[att.UserID]
			if !ok {
				days = s.resolver.Resolve(ctx, att.UserID).AttachmentRetentionDays
				retention[att.UserID] = days
			}

			// Strictly greater than the window: an attachment aged exactly
			// retentionDays is retained until the next sweep.
			if now.Sub(att.CreatedAt) <= time.Duration(days)*24*time.Hour {
				summary.Retained++
				continue
			}

			if err := s.deleteOne(ctx, att); err != nil {
				summary.Failed++
				metrics.AttachmentSweepFailuresTotal.Inc()
				s.logger.Warn("deleting attachment failed",
					"error", err, "attachment_id", att.ID, "user_id", att.UserID)
				continue
			}
			summary.Deleted++
			metrics.AttachmentsSweptTotal.Inc()
		}

		if len(batch) < s.batchSize {
			break
		}
	}

	s.logger.Info("retention sweep completed",
		"scanned", summary.Scanned,
		"deleted", summary.Deleted,
		"retained", summary.Retained,
		"failed", summary.Failed)

	if err := s.pub.PublishRetentionSwept(ctx, events.RetentionSwept{
		Scanned:   summary.Scanned,
		Deleted:   summary.Deleted,
		Failed:    summary.Failed,
		Timestamp: now.UTC(),
	}); err != nil {
		s.logger.Debug("publishing sweep event", "error", err)
	}

	return summary, nil
}

// deleteOne removes the payload first, then the metadata row. If the row
// delete fails the blob is already gone; the retried row delete next sweep
// finds a missing blob, which DiskStore treats as deleted.
func (s *Sweeper) deleteOne(ctx context.Context, att Attachment) error {
	if err := s.blobs.Delete(ctx, att.StorageRef); err != nil {
		return err
	}
	return s.repo.Delete(ctx, att.ID)
}
