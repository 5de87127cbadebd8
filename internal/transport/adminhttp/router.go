// Package adminhttp is the loopback-only administrative HTTP surface.
package adminhttp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine"
	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/incidents"
	"dupeguard.ai/internal/engine/registry"
	"dupeguard.ai/internal/engine/settings"
	"dupeguard.ai/internal/metrics"
)

// Engine is the subset of *engine.Engine the API needs.
type Engine interface {
	Profiles(ctx context.Context) ([]registry.Profile, error)
	Profile(ctx context.Context, name string) (registry.Profile, error)
	ResetProfile(ctx context.Context, name string) error
	ClearProfiles(ctx context.Context) (int, error)
	SetKickLoop(ctx context.Context, name string, enabled bool, intervalSeconds int) (registry.Profile, error)
	Config(ctx context.Context) (settings.GlobalConfig, error)
	SetConfig(ctx context.Context, g settings.GlobalConfig) (settings.GlobalConfig, error)
	SetPatch(ctx context.Context, c finding.Category, enabled bool) (settings.GlobalConfig, error)
	ListIncidents(ctx context.Context, limit int) ([]incidents.Entry, error)
	ClearIncidents(ctx context.Context) (int, error)
	Status(ctx context.Context) (engine.Status, error)
}

type Options struct {
	Engine Engine
	// Alerts serves the websocket stream; nil disables the route.
	Alerts         http.Handler
	RequestsPerMin int
	// AllowRemote disables the loopback check. Only for deployments that put
	// their own access control in front.
	AllowRemote bool
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

const maxBodyBytes = 64 * 1024

type api struct {
	eng     Engine
	log     zerolog.Logger
	timeout time.Duration
}

func NewRouter(opts Options) http.Handler {
	if opts.RequestsPerMin <= 0 {
		opts.RequestsPerMin = 120
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 2 * time.Second
	}
	a := &api{eng: opts.Engine, log: opts.Logger, timeout: opts.CallTimeout}

	r := chi.NewRouter()
	// No RealIP: the loopback guard and the limiter key on the socket peer.
	r.Use(chimiddleware.Recoverer)
	if !opts.AllowRemote {
		r.Use(loopbackOnly)
	}
	r.Use(observe)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if opts.Alerts != nil {
		r.Handle("/v1/alerts/ws", opts.Alerts)
	}

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(opts.RequestsPerMin, time.Minute))

		r.Get("/profiles", a.listProfiles)
		r.Delete("/profiles", a.clearProfiles)
		r.Get("/profiles/{name}", a.getProfile)
		r.Post("/profiles/{name}/reset", a.resetProfile)
		r.Put("/profiles/{name}/kickloop", a.setKickLoop)

		r.Get("/config", a.getConfig)
		r.Put("/config", a.putConfig)
		r.Put("/config/patches/{category}", a.setPatch)

		r.Get("/incidents", a.listIncidents)
		r.Delete("/incidents", a.clearIncidents)

		r.Get("/stats", a.stats)
	})
	return r
}

func (a *api) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.timeout)
}

func (a *api) listProfiles(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	ps, err := a.eng.Profiles(ctx)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, ps)
}

func (a *api) getProfile(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	p, err := a.eng.Profile(ctx, chi.URLParam(r, "name"))
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, p)
}

func (a *api) resetProfile(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	name := chi.URLParam(r, "name")
	if err := a.eng.ResetProfile(ctx, name); err != nil {
		a.fail(rw, err)
		return
	}
	p, err := a.eng.Profile(ctx, name)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, p)
}

func (a *api) clearProfiles(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	n, err := a.eng.ClearProfiles(ctx)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]int{"removed": n})
}

type kickLoopReq struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
}

func (a *api) setKickLoop(rw http.ResponseWriter, r *http.Request) {
	var req kickLoopReq
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if req.IntervalSeconds < 0 {
		writeError(rw, http.StatusBadRequest, "interval_seconds must be >= 0")
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	p, err := a.eng.SetKickLoop(ctx, chi.URLParam(r, "name"), req.Enabled, req.IntervalSeconds)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, p)
}

func (a *api) getConfig(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	g, err := a.eng.Config(ctx)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, g)
}

func (a *api) putConfig(rw http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(raw) > maxBodyBytes {
		writeError(rw, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	g, err := settings.Decode(raw)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	out, err := a.eng.SetConfig(ctx, g)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, out)
}

func (a *api) setPatch(rw http.ResponseWriter, r *http.Request) {
	c, ok := finding.Parse(chi.URLParam(r, "category"))
	if !ok {
		writeError(rw, http.StatusNotFound, "unknown category")
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	g, err := a.eng.SetPatch(ctx, c, req.Enabled)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, g)
}

func (a *api) listIncidents(rw http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(rw, http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	es, err := a.eng.ListIncidents(ctx, limit)
	if err != nil {
		a.fail(rw, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(rw, incidents.Export(es)+"\n")
		return
	}
	writeJSON(rw, http.StatusOK, es)
}

func (a *api) clearIncidents(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	n, err := a.eng.ClearIncidents(ctx)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]int{"removed": n})
}

func (a *api) stats(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	st, err := a.eng.Status(ctx)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (a *api) fail(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownIdentity):
		writeError(rw, http.StatusNotFound, "unknown identity")
	case errors.Is(err, engine.ErrUnknownCategory):
		writeError(rw, http.StatusNotFound, "unknown category")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(rw, http.StatusServiceUnavailable, "engine busy")
	default:
		a.log.Error().Err(err).Msg("admin request failed")
		writeError(rw, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, "encode")
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_, _ = rw.Write(b)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_, _ = rw.Write(b)
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// observe records request metrics by route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAdminRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
