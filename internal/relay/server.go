// Package relay implements the public-facing HTTP front end: it accepts
// tunnel-client control channels, allocates slugs, and dispatches visitor
// HTTP requests to the owning tunnel over its control channel.
package relay

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tunnelmux/tunnelmux/internal/config"
	"github.com/tunnelmux/tunnelmux/internal/netutil"
	"github.com/tunnelmux/tunnelmux/internal/obslog"
	"github.com/tunnelmux/tunnelmux/internal/stats"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the relay's public HTTP+control-channel front end.
type Server struct {
	cfg config.RelayConfig
	log logrus.FieldLogger

	hub   *hub
	stats *stats.Recorder

	router *mux.Router
	http   *http.Server
}

// New builds a Server bound to cfg, ready to Run.
func New(cfg config.RelayConfig, log logrus.FieldLogger, recorder *stats.Recorder) *Server {
	s := &Server{
		cfg:   cfg,
		log:   log,
		hub:   newHub(cfg.MaxTunnels),
		stats: recorder,
	}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:              addrForPort(cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func addrForPort(port int) string {
	return ":" + strconv.Itoa(port)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogMiddleware)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/tunnel", s.handleTunnelUpgrade)
	r.HandleFunc("/t/{slug}", s.handleVisitorRequest)
	r.HandleFunc("/t/{slug}/{rest:.*}", s.handleVisitorRequest)
	r.HandleFunc("/", s.handleLanding).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	return r
}

// requestLogMiddleware attaches a request-scoped logger to the context so
// obslog.FromContext inside the handshake and dispatch handlers gets a
// real per-request entry (correlation id, remote IP, normalized host,
// and the matched slug when the route has one) instead of always falling
// back to the package logger.
func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := s.log.WithFields(logrus.Fields{
			"request_id": uuid.NewString(),
			"remote_ip":  netutil.RemoteIP(r.RemoteAddr),
			"host":       netutil.NormalizeHost(r.Host),
		})
		if slug := mux.Vars(r)["slug"]; slug != "" {
			entry = entry.WithField("slug", slug)
		}
		next.ServeHTTP(w, r.WithContext(obslog.WithLogger(r.Context(), entry)))
	})
}

// Run starts the HTTP listener (and, when configured, the TLS listener)
// plus the stale-session janitor, blocking until ctx is cancelled.
// Exit codes at the process boundary: 0 on graceful shutdown within the
// grace period, 1 if the grace timer fires first — surfaced via the
// returned error, which the cmd/cli layer translates to os.Exit(1).
func (s *Server) Run(ctx context.Context) error {
	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	go s.runJanitor(janitorCtx)

	errCh := make(chan error, 2)

	go func() {
		s.log.WithField("addr", s.http.Addr).Info("relay listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var tlsServer *http.Server
	if s.cfg.UseHTTPS {
		tlsServer = &http.Server{
			Addr:              addrForPort(s.cfg.HTTPSPort),
			Handler:           s.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			s.log.WithField("addr", tlsServer.Addr).Info("relay listening (tls)")
			if err := tlsServer.ListenAndServeTLS(s.cfg.SSLCert, s.cfg.SSLKey); err != nil && err != http.ErrServerClosed {
				s.log.WithError(err).Error("TLS startup failed, continuing on plain HTTP")
			}
		}()
	}

	select {
	case <-ctx.Done():
		return s.shutdown(tlsServer)
	case err := <-errCh:
		_ = s.shutdown(tlsServer)
		return err
	}
}

func (s *Server) shutdown(tlsServer *http.Server) error {
	for _, sess := range s.hub.snapshot() {
		sess.teardown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.http.Shutdown(shutdownCtx)
	if tlsServer != nil {
		if tlsErr := tlsServer.Shutdown(shutdownCtx); err == nil {
			err = tlsErr
		}
	}
	return err
}
