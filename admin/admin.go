// Package admin serves the operator endpoints of a peer: prometheus
// metrics, a session status snapshot and a liveness check.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Meander-Cloud/go-pairsync/config"
	"github.com/Meander-Cloud/go-pairsync/metrics"
	"github.com/Meander-Cloud/go-pairsync/session"
)

const (
	snapshotTimeout time.Duration = time.Second * 2
	shutdownTimeout time.Duration = time.Second * 3
)

type StatusResponse struct {
	Counter   int64  `json:"counter"`
	StatusKey string `json:"status_key"`
	State     string `json:"state"`
	Pending   bool   `json:"pending"`
}

func NewHandler(c *config.Config, s *session.Session, mt *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
		defer cancel()

		snap, err := s.Snapshot(ctx)
		if err != nil {
			log.Printf("%s: status snapshot failed, err=%s", c.LogPrefix, err.Error())
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(
			&StatusResponse{
				Counter:   snap.Value,
				StatusKey: snap.Status.Key(),
				State:     snap.Status.State().String(),
				Pending:   snap.Pending,
			},
		)
		if err != nil {
			log.Printf("%s: status encode failed, err=%s", c.LogPrefix, err.Error())
		}
	})

	registry := mt.Registry()
	if registry != nil {
		r.Method(
			http.MethodGet,
			"/metrics",
			promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{},
			),
		)
	}

	return r
}

type Server struct {
	c        *config.Config
	listener net.Listener
	server   *http.Server
	exitch   chan struct{}
}

// NewServer starts serving on c.AdminAddress.
func NewServer(c *config.Config, s *session.Session, mt *metrics.Metrics) (*Server, error) {
	listener, err := net.Listen("tcp", c.AdminAddress)
	if err != nil {
		err = fmt.Errorf("%s: failed to listen on AdminAddress=%s, err=%w", c.LogPrefix, c.AdminAddress, err)
		log.Printf("%s", err.Error())
		return nil, err
	}

	srv := &Server{
		c:        c,
		listener: listener,
		server: &http.Server{
			Handler:           NewHandler(c, s, mt),
			ReadHeaderTimeout: snapshotTimeout,
		},
		exitch: make(chan struct{}),
	}

	go func() {
		defer close(srv.exitch)

		log.Printf("%s: admin serving on %s", c.LogPrefix, listener.Addr().String())
		err := srv.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("%s: admin server exited, err=%s", c.LogPrefix, err.Error())
		}
	}()

	return srv, nil
}

// Addr is the bound address, useful when AdminAddress asks for port zero.
func (srv *Server) Addr() string {
	return srv.listener.Addr().String()
}

func (srv *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.server.Shutdown(ctx)
	if err != nil {
		log.Printf("%s: admin shutdown, err=%s", srv.c.LogPrefix, err.Error())
	}

	<-srv.exitch
}
