package exec

import (
	"context"
	"log/slog"
	"sync"

	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/params"
	"github.com/LeonAdeoye/query-service/internal/query"
)

// Stream delivers rows incrementally through a bounded channel while the
// producer goroutine keeps the connection lease. Close the stream (or cancel
// its context) to stop the producer and release the connection.
type Stream struct {
	columns   []string
	rows      chan query.Row
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Columns is the result set's column names in select order. Available
// immediately, even when the result set is empty.
func (s *Stream) Columns() []string {
	return s.columns
}

// Rows is the row channel. It is closed when the result set is exhausted,
// the stream fails, or the stream is closed.
func (s *Stream) Rows() <-chan query.Row {
	return s.rows
}

// Err reports why the stream ended early. It is nil for a complete result
// set and for a consumer-initiated close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer and waits until the connection is back in the
// pool. Safe to call more than once and concurrently with reads.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		// Drain so a producer blocked on send can observe cancellation.
		go func() {
			for range s.rows {
			}
		}()
		<-s.done
	})
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Stream executes the query and returns a row stream backed by a producer
// goroutine. bufferSize bounds how far the producer can run ahead of the
// consumer.
func (e *Executor) Stream(ctx context.Context, req query.Request, bufferSize int) (*Stream, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	desc, err := e.Registry.Resolve(req.DatasourceID)
	if err != nil {
		return nil, err
	}
	sqlText, args, err := params.Resolve(req.SQL, req.Parameters, desc.Vendor)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	lease, err := e.Pools.Acquire(streamCtx, req.DatasourceID)
	if err != nil {
		cancel()
		return nil, err
	}

	dbRows, err := lease.Conn().QueryContext(streamCtx, sqlText, args...)
	if err != nil {
		lease.Release()
		cancel()
		return nil, e.classify(streamCtx, req.DatasourceID, err)
	}
	cols, err := dbRows.Columns()
	if err != nil {
		_ = dbRows.Close()
		lease.Release()
		cancel()
		return nil, e.classify(streamCtx, req.DatasourceID, err)
	}

	s := &Stream{
		columns: cols,
		rows:    make(chan query.Row, bufferSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer lease.Release()
		defer close(s.rows)
		defer dbRows.Close()

		sent := 0
		for dbRows.Next() {
			row, err := scanRow(dbRows, cols)
			if err != nil {
				s.fail(errcode.Wrap(errcode.StreamingError, err, "scan row %d on %s", sent, req.DatasourceID))
				return
			}
			select {
			case s.rows <- row:
				sent++
			case <-streamCtx.Done():
				return
			}
		}
		if err := dbRows.Err(); err != nil && streamCtx.Err() == nil {
			s.fail(errcode.Wrap(errcode.StreamingError, err, "stream on %s failed after %d rows", req.DatasourceID, sent))
			return
		}
		e.Logger.DebugContext(ctx, "stream complete",
			slog.String("datasource", req.DatasourceID),
			slog.Int("rows", sent))
	}()

	return s, nil
}

// Drain consumes an entire stream, invoking fn per row. It is the bulk-export
// path's pump: the stream is always closed before returning.
func Drain(ctx context.Context, s *Stream, fn func(query.Row) error) (int, error) {
	defer s.Close()
	count := 0
	for {
		select {
		case row, ok := <-s.Rows():
			if !ok {
				if err := s.Err(); err != nil {
					return count, err
				}
				return count, nil
			}
			if err := fn(row); err != nil {
				return count, err
			}
			count++
		case <-ctx.Done():
			return count, ctx.Err()
		}
	}
}
