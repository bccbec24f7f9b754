// Package endpoints serves a process's health, metrics and status over HTTP.
package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/EJahren/ert/common/stats"
)

// StatusFunc returns a JSON-marshalable snapshot for /status.
type StatusFunc func() interface{}

func NewServer(addr string, stat stats.StatsReceiver, status StatusFunc) *Server {
	s := &Server{
		Addr:   addr,
		Stats:  stat,
		Status: status,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/", helpHandler)
	s.mux.HandleFunc("/health", healthHandler)
	s.mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	s.mux.HandleFunc("/status", s.statusHandler)
	return s
}

type Server struct {
	Addr   string
	Stats  stats.StatsReceiver
	Status StatusFunc
	mux    *http.ServeMux
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithFields(log.Fields{"addr": s.Addr}).Info("Serving http & stats")
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Error(w, "Common paths: '/health', '/admin/metrics.json', '/status'", 501)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

const contentTypeHdr = "Content-Type"
const contentTypeVal = "application/json; charset=utf-8"

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(contentTypeHdr, contentTypeVal)

	pretty := r.URL.Query().Get("pretty") == "true"
	str := s.Stats.Render(pretty)
	if _, err := io.Copy(w, bytes.NewBuffer(str)); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		http.Error(w, "no status available", 404)
		return
	}
	var (
		b   []byte
		err error
	)
	if r.URL.Query().Get("pretty") == "true" {
		b, err = json.MarshalIndent(s.Status(), "", "  ")
	} else {
		b, err = json.Marshal(s.Status())
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set(contentTypeHdr, contentTypeVal)
	w.Write(b)
}

type StatScope string

// MakeStatsReceiver returns a finagle-style receiver latched every 15s.
func MakeStatsReceiver(scope StatScope) stats.StatsReceiver {
	s, _ := stats.NewCustomStatsReceiver(
		stats.NewFinagleStatsRegistry,
		15*time.Second)
	return s.Scope(string(scope)).Precision(time.Millisecond)
}
