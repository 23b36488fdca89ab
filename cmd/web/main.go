package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"dmsp/internal/predict"
	"dmsp/internal/runlog"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// runStore is the part of the run ledger the viewer reads.
type runStore interface {
	List(ctx context.Context) ([]runlog.Run, error)
	Get(ctx context.Context, id string) (runlog.Run, error)
}

// Page is one window of a predictions file.
type Page struct {
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
	Label  string        `json:"label,omitempty"`
	Rows   []predict.Row `json:"rows"`
	More   bool          `json:"more"`
}

func (p Page) Prev() int {
	if p.Offset < p.Limit {
		return 0
	}
	return p.Offset - p.Limit
}

func (p Page) Next() int { return p.Offset + p.Limit }

// readPage streams a predictions file and keeps rows [offset, offset+limit)
// of those matching label (any label when empty).
func readPage(path string, offset, limit int, label string) (Page, error) {
	page := Page{Offset: offset, Limit: limit, Label: label, Rows: []predict.Row{}}
	f, err := os.Open(path)
	if err != nil {
		return page, err
	}
	defer f.Close()
	rd, err := predict.NewReader(f)
	if err != nil {
		return page, err
	}
	seen := 0
	for {
		row, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return page, nil
		}
		if err != nil {
			return page, err
		}
		if label != "" && row.Label != label {
			continue
		}
		seen++
		if seen <= offset {
			continue
		}
		if len(page.Rows) == limit {
			page.More = true
			return page, nil
		}
		page.Rows = append(page.Rows, row)
	}
}

// pageParams reads offset, limit and label from the query string.
func pageParams(r *http.Request) (offset, limit int, label string, err error) {
	q := r.URL.Query()
	limit = defaultLimit
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, "", fmt.Errorf("bad offset %q", s)
		}
	}
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return 0, 0, "", fmt.Errorf("bad limit %q", s)
		}
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	label = q.Get("label")
	if label != "" && label != predict.Detectable && label != predict.Undetectable {
		return 0, 0, "", fmt.Errorf("bad label %q", label)
	}
	return offset, limit, label, nil
}

// statusResponseWriter captures status and bytes written for logging
type statusResponseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// loggingMiddleware logs each request with method, path, status, size and duration
func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w}
		next.ServeHTTP(srw, r)
		if srw.status == 0 {
			srw.status = http.StatusOK
		}
		logger.Info("request", "remote", r.RemoteAddr, "method", r.Method, "uri", r.URL.RequestURI(),
			"status", srw.status, "bytes", srw.written, "duration", time.Since(start), "agent", r.UserAgent())
	})
}

// runID extracts the id from /run/{id} and /api/run/{id}.
func runID(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	return parts[len(parts)-1]
}

func lookupRun(w http.ResponseWriter, r *http.Request, store runStore) (runlog.Run, bool) {
	id := runID(r)
	if id == "" || id == "run" {
		http.Error(w, "missing run", http.StatusBadRequest)
		return runlog.Run{}, false
	}
	run, err := store.Get(r.Context(), id)
	if errors.Is(err, runlog.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return runlog.Run{}, false
	}
	if err != nil {
		http.Error(w, "failed to read runs db", http.StatusInternalServerError)
		return runlog.Run{}, false
	}
	return run, true
}

func indexHandler(store runStore, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		runs, err := store.List(r.Context())
		if err != nil {
			logger.Warn("failed to list runs for index", "err", err)
			runs = nil
		}
		if err := templates.ExecuteTemplate(w, "base.html", runs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

type runPage struct {
	Run   runlog.Run
	Page  Page
	Error string
}

func runHandler(store runStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, store)
		if !ok {
			return
		}
		offset, limit, label, err := pageParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := runPage{Run: run}
		data.Page, err = readPage(run.Output, offset, limit, label)
		if err != nil {
			data.Error = fmt.Sprintf("cannot read predictions: %v", err)
		}
		if err := templates.ExecuteTemplate(w, "run.html", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// apiRunsHandler returns the JSON list of runs
func apiRunsHandler(store runStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := store.List(r.Context())
		if err != nil {
			http.Error(w, "failed to read runs db", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []runlog.Run{}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(runs)
	}
}

// apiRunHandler returns JSON for one run and a page of its predictions
func apiRunHandler(store runStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, store)
		if !ok {
			return
		}
		offset, limit, label, err := pageParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		page, err := readPage(run.Output, offset, limit, label)
		if err != nil {
			http.Error(w, fmt.Sprintf("cannot read predictions: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(struct {
			Run  runlog.Run `json:"run"`
			Page Page       `json:"page"`
		}{run, page})
	}
}

func newMux(store runStore, logger *log.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", indexHandler(store, logger))
	mux.HandleFunc("/run/", runHandler(store))
	mux.HandleFunc("/api/runs", apiRunsHandler(store))
	mux.HandleFunc("/api/run/", apiRunHandler(store))
	return loggingMiddleware(logger, mux)
}

func main() {
	var addr, db, logFile string
	cmd := &cobra.Command{
		Use:          "dmsp-web",
		Short:        "Serve recorded detectability runs and their predictions",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out io.Writer = os.Stdout
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("failed to open log file: %w", err)
				}
				defer f.Close()
				out = io.MultiWriter(os.Stdout, f)
			}
			logger := log.NewWithOptions(out, log.Options{ReportTimestamp: true, Prefix: "dmsp-web"})

			store, err := runlog.Open(db)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := &http.Server{Addr: addr, Handler: newMux(store, logger), ReadTimeout: 5 * time.Second, WriteTimeout: 30 * time.Second}
			logger.Info("serving runs", "addr", addr, "runs_db", db)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&db, "runs-db", "runs.db", "sqlite run ledger written by dmsp --runs-db")
	cmd.Flags().StringVar(&logFile, "log", "", "also append access logs to this file")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
