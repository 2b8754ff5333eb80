// Package maintenance runs the background retention sweep over export
// artifacts. Bulk exports land as files under the export directory; the
// sweeper deletes those older than the configured retention age so the
// directory does not grow without bound.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	ExportDir     string
	Retention     time.Duration
	SweepInterval time.Duration
}

type Service struct {
	Config Config
	Logger *slog.Logger
	Clock  func() time.Time
}

type SweepSummary struct {
	FilesScanned int   `json:"files_scanned"`
	FilesDeleted int   `json:"files_deleted"`
	BytesFreed   int64 `json:"bytes_freed"`
	Failures     int   `json:"failures"`
}

func (s *Service) ensureDefaults() {
	if s.Config.Retention <= 0 {
		s.Config.Retention = 24 * time.Hour
	}
	if s.Config.SweepInterval <= 0 {
		s.Config.SweepInterval = time.Hour
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunSweepOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "export retention sweep failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "export retention sweep completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunSweepOnce deletes export artifacts whose modification time is older
// than the retention age. Per-file failures are counted, not fatal.
func (s *Service) RunSweepOnce(ctx context.Context) (SweepSummary, error) {
	s.ensureDefaults()
	if s.Config.ExportDir == "" {
		return SweepSummary{}, fmt.Errorf("export directory is required")
	}

	entries, err := os.ReadDir(s.Config.ExportDir)
	if err != nil {
		if os.IsNotExist(err) {
			return SweepSummary{}, nil
		}
		sweepRunsTotal.WithLabelValues("error").Inc()
		return SweepSummary{}, fmt.Errorf("read export directory: %w", err)
	}

	cutoff := s.Clock().Add(-s.Config.Retention)
	summary := SweepSummary{}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		summary.FilesScanned++

		info, err := entry.Info()
		if err != nil {
			summary.Failures++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.Config.ExportDir, entry.Name())
		if err := os.Remove(path); err != nil {
			summary.Failures++
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "failed to delete expired export artifact",
					slog.String("path", path), slog.Any("error", err))
			}
			continue
		}
		summary.FilesDeleted++
		summary.BytesFreed += info.Size()
	}

	sweepRunsTotal.WithLabelValues("success").Inc()
	sweepFilesDeletedTotal.Add(float64(summary.FilesDeleted))
	sweepBytesFreedTotal.Add(float64(summary.BytesFreed))
	return summary, nil
}
