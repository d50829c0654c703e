package e2etest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"testing"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver for Server.Count.
	"github.com/myrjola/struggle/internal/logging"
)

// LogAddrKey is the key used to log the address the server is listening on.
const LogAddrKey = "addr"

// LogDsnKey is the data source name key used to log the SQL DSN.
const LogDsnKey = "sqlDsn"

// Server is a running in-process API server.
type Server struct {
	url    string
	client *Client
	db     *sql.DB
	stop   context.CancelCauseFunc
	done   chan error
}

// attrWatcher forwards records to Handler and reports attributes whose key is one of keys.
type attrWatcher struct {
	slog.Handler
	keys  []string
	found chan<- slog.Attr
}

func (w attrWatcher) Handle(ctx context.Context, r slog.Record) error {
	r.Attrs(func(a slog.Attr) bool {
		if slices.Contains(w.keys, a.Key) {
			select {
			case w.found <- a:
			default:
			}
		}
		return true
	})
	return w.Handler.Handle(ctx, r) //nolint:wrapcheck // transparent wrapper.
}

func (w attrWatcher) WithAttrs(attrs []slog.Attr) slog.Handler {
	return attrWatcher{Handler: w.Handler.WithAttrs(attrs), keys: w.keys, found: w.found}
}

func (w attrWatcher) WithGroup(name string) slog.Handler {
	return attrWatcher{Handler: w.Handler.WithGroup(name), keys: w.keys, found: w.found}
}

// StartServer runs run in the background and returns once /api/healthy answers.
//
// run must log the listen address under LogAddrKey and the read-write DSN under LogDsnKey. logSink receives the
// server logs, usually a testhelpers.NewWriter. The server is shut down when the test finishes.
func StartServer(
	t *testing.T,
	logSink io.Writer,
	lookupEnv func(string) (string, bool),
	run func(context.Context, *slog.Logger, func(string) (string, bool)) error,
) (*Server, error) {
	ctx, stop := context.WithCancelCause(t.Context())
	done := make(chan error, 1)
	found := make(chan slog.Attr, 4) //nolint:mnd // room for both keys and a repeat.

	handler := logging.NewContextHandler(slog.NewTextHandler(logSink, &slog.HandlerOptions{
		AddSource:   false,
		Level:       slog.LevelDebug,
		ReplaceAttr: nil,
	}))
	logger := slog.New(attrWatcher{Handler: handler, keys: []string{LogAddrKey, LogDsnKey}, found: found})

	go func() {
		err := run(ctx, logger, lookupEnv)
		if err != nil {
			stop(err)
		}
		done <- err
	}()

	server := &Server{url: "", client: nil, db: nil, stop: stop, done: done}
	t.Cleanup(func() {
		if err := server.Shutdown(); err != nil {
			t.Errorf("server shutdown: %v", err)
		}
	})

	var addr, dsn string
	for addr == "" || dsn == "" {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("server stopped before ready: %w", context.Cause(ctx))
		case a := <-found:
			if a.Key == LogAddrKey {
				addr = a.Value.String()
			} else {
				dsn = a.Value.String()
			}
		}
	}

	var err error
	server.url = "http://" + addr
	if server.client, err = NewClient(server.url); err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	if err = server.client.WaitForReady(ctx, "/api/healthy"); err != nil {
		return nil, fmt.Errorf("wait for ready: %w", err)
	}
	if server.db, err = sql.Open("sqlite3", dsn); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return server, nil
}

// Client returns the client bound to the first session. Use [Client.Clone] for more users.
func (s *Server) Client() *Client {
	return s.client
}

func (s *Server) URL() string {
	return s.url
}

// Count returns the number of rows in table matching the optional where clause.
func (s *Server) Count(ctx context.Context, table string, where string, args ...any) (int, error) {
	query := "SELECT COUNT(*) FROM " + table //nolint:gosec // test-only, table names are constants.
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Shutdown stops the server and returns the error run exited with. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.stop(nil)
	err, ok := <-s.done
	if !ok {
		return nil
	}
	close(s.done)
	var closeErr error
	if s.db != nil {
		closeErr = s.db.Close()
		s.db = nil
	}
	if err != nil {
		return err
	}
	return closeErr
}
