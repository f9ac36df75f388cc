package relay

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tunnelmux/tunnelmux/internal/domain"
	"github.com/tunnelmux/tunnelmux/internal/netutil"
	"github.com/tunnelmux/tunnelmux/internal/obslog"
	"github.com/tunnelmux/tunnelmux/internal/rewrite"
	"github.com/tunnelmux/tunnelmux/internal/tunnelproto"
)

const maxVisitorBodyBytes = 10 << 20 // 10 MiB in-memory buffer cap

// handleVisitorRequest implements the eleven-step visitor dispatch
// algorithm: slug lookup, writability check, body buffering, frame
// construction and send, response wait with deadline, content rewriting,
// and hop-by-hop stripping.
func (s *Server) handleVisitorRequest(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	log := obslog.FromContext(r.Context())

	vars := mux.Vars(r)
	slug := vars["slug"]
	rest := vars["rest"]
	path := "/" + rest

	sess := s.hub.lookup(slug)
	if sess == nil {
		s.writeLandingNotFound(w, slug)
		logVisitorRequest(log, r.Method, path, http.StatusNotFound, started, domain.ErrTunnelNotFound)
		return
	}
	if sess.closing.Load() {
		http.Error(w, "Tunnel connection lost. Please try again.", http.StatusBadGateway)
		logVisitorRequest(log, r.Method, path, http.StatusBadGateway,
			started, &domain.TunnelError{TunnelID: sess.tunnelID, Op: "dispatch", Err: domain.ErrTunnelDisconnected})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxVisitorBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		logVisitorRequest(log, r.Method, path, http.StatusBadRequest, started, err)
		return
	}

	netutil.StripHopByHop(r.Header)
	headers := cloneRequestHeaders(r.Header)

	requestID := uuid.NewString()
	respCh := sess.registerPending(requestID)

	msg := tunnelproto.Message{
		Kind: tunnelproto.KindRequest,
		Request: &tunnelproto.HTTPRequest{
			RequestID: requestID,
			Method:    r.Method,
			Path:      path,
			Query:     r.URL.RawQuery,
			Headers:   headers,
			BodyB64:   tunnelproto.EncodeBody(body),
		},
	}

	if err := sess.sendRequest(msg); err != nil {
		sess.releasePending(requestID)
		http.Error(w, "Failed to reach local server. Make sure your dev server is running.", http.StatusBadGateway)
		logVisitorRequest(log, r.Method, path, http.StatusBadGateway, started, err)
		return
	}

	sess.requestCount.Add(1)

	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var resp *tunnelproto.HTTPResponse
	var dispatchErr error
	select {
	case resp = <-respCh:
	case <-time.After(timeout):
		sess.releasePending(requestID)
		resp = nil
		dispatchErr = &domain.TunnelError{TunnelID: sess.tunnelID, Op: "await-response", Err: domain.ErrRequestTimeout}
	}

	statusCode := 0
	if resp == nil {
		http.Error(w, "Failed to reach local server. Make sure your dev server is running.", http.StatusBadGateway)
		statusCode = http.StatusBadGateway
		if dispatchErr == nil {
			// resp arrived nil without the timeout branch firing: the
			// tunnel tore down while this request was in flight.
			dispatchErr = &domain.TunnelError{TunnelID: sess.tunnelID, Op: "await-response", Err: domain.ErrTunnelDisconnected}
		}
	} else {
		statusCode = s.writeVisitorResponse(w, slug, resp)
	}

	if s.stats != nil {
		s.stats.RequestServed(statusCode)
	}
	logVisitorRequest(log, r.Method, path, statusCode, started, dispatchErr)
}

// logVisitorRequest standardizes the method/path/status/duration line for
// one visitor exchange, logging at warn (with the classifying error) on
// failure and info otherwise.
func logVisitorRequest(log logrus.FieldLogger, method, path string, status int, started time.Time, err error) {
	obslog.Request(log, "visitor request served", logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   status,
		"duration": time.Since(started).String(),
	}, err)
}

func (s *Server) writeVisitorResponse(w http.ResponseWriter, slug string, resp *tunnelproto.HTTPResponse) int {
	body, err := tunnelproto.DecodeBody(resp.BodyB64)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	headers := tunnelproto.CloneHeaders(resp.Headers)
	netutil.StripHopByHopMap(headers)

	contentType := firstHeader(headers, "Content-Type")
	if rewritten, changed := rewrite.ApplyIfNeeded(contentType, body, slug); changed {
		body = rewritten
		setHeader(headers, "Content-Length", strconv.Itoa(len(body)))
	}

	for k, vals := range headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
	return status
}

func (s *Server) writeLandingNotFound(w http.ResponseWriter, slug string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	writeNotFoundPage(w, slug)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	writeNotFoundPage(w, "")
}

func cloneRequestHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		c := make([]string, len(v))
		copy(c, v)
		out[k] = c
	}
	return out
}

func firstHeader(h map[string][]string, key string) string {
	for k, vals := range h {
		if !strings.EqualFold(k, key) || len(vals) == 0 {
			continue
		}
		return vals[0]
	}
	return ""
}

func setHeader(h map[string][]string, key, value string) {
	for k := range h {
		if strings.EqualFold(k, key) {
			delete(h, k)
		}
	}
	h[key] = []string{value}
}
