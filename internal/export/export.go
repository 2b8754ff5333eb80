// Package export writes streamed result sets to disk as CSV, JSON, Excel,
// or Parquet artifacts, optionally publishing them to an S3-compatible
// object store.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/exec"
	"github.com/LeonAdeoye/query-service/internal/query"
)

// Artifact describes one completed export.
type Artifact struct {
	QueryID  string             `json:"queryId"`
	Format   query.ExportFormat `json:"format"`
	Path     string             `json:"path"`
	FileURL  string             `json:"fileUrl,omitempty"`
	RowCount int                `json:"rowCount"`
	Size     int64              `json:"size"`
}

// Service streams result sets into export files.
type Service struct {
	dir      string
	uploader *Uploader
	logger   *slog.Logger
}

func NewService(cfg config.ExportConfig, uploader *Uploader, logger *slog.Logger) *Service {
	dir := cfg.Directory
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "query-exports")
	}
	return &Service{dir: dir, uploader: uploader, logger: logger}
}

// Dir returns the directory artifacts are written to.
func (s *Service) Dir() string {
	return s.dir
}

// Export drains the stream into a freshly created artifact file. The file
// name embeds a UUID so concurrent exports of the same query never collide.
// An empty result set still produces a valid artifact with headers only.
func (s *Service) Export(ctx context.Context, queryID string, format query.ExportFormat, stream *exec.Stream) (*Artifact, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, errcode.Wrap(errcode.FileExportError, err, "create export directory %s", s.dir)
	}

	name := fmt.Sprintf("%s_%s.%s", queryID, uuid.NewString(), extension(format))
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.FileExportError, err, "create export file %s", path)
	}

	w, err := newRowWriter(format, f, stream.Columns())
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}

	started := time.Now()
	count, err := exec.Drain(ctx, stream, w.writeRow)
	if err == nil {
		err = w.close()
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		if errcode.CodeOf(err) != errcode.Unknown {
			return nil, err
		}
		return nil, errcode.Wrap(errcode.FileExportError, err, "write %s export for query %s", format, queryID)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.FileExportError, err, "stat export file %s", path)
	}

	artifact := &Artifact{
		QueryID:  queryID,
		Format:   format,
		Path:     path,
		RowCount: count,
		Size:     info.Size(),
	}

	if s.uploader != nil {
		url, err := s.uploader.Upload(ctx, path, name, contentType(format))
		if err != nil {
			return nil, errcode.Wrap(errcode.FileExportError, err, "upload export %s", name)
		}
		artifact.FileURL = url
	}

	s.logger.InfoContext(ctx, "export complete",
		slog.String("query_id", queryID),
		slog.String("format", string(format)),
		slog.String("path", path),
		slog.Int("rows", count),
		slog.Int64("bytes", artifact.Size),
		slog.Duration("elapsed", time.Since(started)))
	return artifact, nil
}

func extension(format query.ExportFormat) string {
	switch format {
	case query.FormatExcel:
		return "xlsx"
	case query.FormatParquet:
		return "parquet"
	case query.FormatJSON:
		return "json"
	default:
		return "csv"
	}
}

func contentType(format query.ExportFormat) string {
	switch format {
	case query.FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case query.FormatParquet:
		return "application/vnd.apache.parquet"
	case query.FormatJSON:
		return "application/json"
	default:
		return "text/csv"
	}
}
