// Package webui serves the pipeline status page: recent runs, token
// usage, health, and the Prometheus metrics endpoint.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aicoder/pkg/logx"
	"aicoder/pkg/persistence"
	"aicoder/pkg/usage"
	"aicoder/pkg/version"
)

// runListLimit bounds the status page and /api/runs payload.
const runListLimit = 50

// Server is the HTTP status surface. Store and Tracker are optional;
// their endpoints degrade to empty payloads when absent.
type Server struct {
	store   *persistence.Store
	tracker *usage.Tracker
	logger  *logx.Logger
	httpSrv *http.Server
}

// New creates the status server for the given host and port.
func New(host string, port int, store *persistence.Store, tracker *usage.Tracker) *Server {
	s := &Server{
		store:   store,
		tracker: tracker,
		logger:  logx.NewLogger("webui"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/usage", s.handleUsage)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("status server listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}
	return nil
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>aicoder status</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #999; padding: 4px 10px; text-align: left; }
.success { color: #2a7a2a; } .failed { color: #b05a00; } .error { color: #b00020; }
</style>
</head>
<body>
<h1>aicoder {{.Version}}</h1>
<p>total tokens: {{.TotalTokens}}</p>
<h2>Recent runs</h2>
<table>
<tr><th>id</th><th>status</th><th>started</th><th>finished</th><th>tokens</th><th>requirements</th></tr>
{{range .Runs}}<tr>
<td>{{.ID}}</td><td class="{{.Status}}">{{.Status}}</td><td>{{.StartedAt}}</td><td>{{.FinishedAt}}</td><td>{{.TotalTokens}}</td><td>{{.Requirements}}</td>
</tr>{{end}}
</table>
</body>
</html>
`))

type indexData struct {
	Version     string
	TotalTokens int64
	Runs        []persistence.Run
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := indexData{Version: version.Version}
	if s.tracker != nil {
		data.TotalTokens = s.tracker.Stats().TotalTokens
	}
	if s.store != nil {
		runs, err := s.store.ListRuns(runListLimit)
		if err != nil {
			s.logger.Warn("run listing failed: %v", err)
		} else {
			data.Runs = runs
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Warn("status page render failed: %v", err)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, _ *http.Request) {
	runs := []persistence.Run{}
	if s.store != nil {
		listed, err := s.store.ListRuns(runListLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if listed != nil {
			runs = listed
		}
	}
	writeJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{}
	if s.tracker != nil {
		payload["live"] = s.tracker.Stats()
	}
	if s.store != nil {
		totals, err := s.store.TokensByAgent()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		payload["persisted"] = totals
	}
	writeJSON(w, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "version": version.Version})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
