package server

import (
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/juju/ratelimit"
	"go.uber.org/zap"

	"sqrl_server/config"
	"sqrl_server/internal/nut"
	"sqrl_server/internal/protocol/engine"
	"sqrl_server/internal/protocol/sqrlurl"
	"sqrl_server/internal/store"
	"sqrl_server/internal/utils/log"
)

type (
	HttpServer struct {
		engine   *engine.Engine
		registry nut.Registry
		store    store.IdentityStore
		gen      nut.Generator
		factory  *sqrlurl.Factory
		cfg      *config.Config

		pollBucket *ratelimit.Bucket
	}
)

func NewHttpServer(e *engine.Engine, registry nut.Registry, identityStore store.IdentityStore,
	gen nut.Generator, cfg *config.Config) *HttpServer {

	return &HttpServer{
		engine:   e,
		registry: registry,
		store:    identityStore,
		gen:      gen,
		factory: &sqrlurl.Factory{
			Domain:    cfg.Sqrl.LocalDomainName,
			Port:      cfg.Sqrl.Port,
			Path:      cfg.Sqrl.URLPath,
			Extension: cfg.Sqrl.DomainExtension,
		},
		cfg:        cfg,
		pollBucket: ratelimit.NewBucketWithRate(cfg.Sqrl.PollRate, cfg.Sqrl.PollBurst),
	}
}

func (s *HttpServer) Run() error {
	r := s.Router()
	log.Info("sqrl server listening", zap.String("addr", s.cfg.Server.Addr))
	return http.ListenAndServe(s.cfg.Server.Addr, r)
}

// Router wires the SQRL surface; split out so tests can mount it on an
// httptest server.
func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID)

	r.HandleFunc(s.cfg.Sqrl.URLPath, s.HandleSqrl()).Methods(http.MethodPost)
	r.HandleFunc("/loginUrl", s.HandleLoginURL()).Methods(http.MethodGet)
	r.HandleFunc("/pollNut/{nut}", s.HandlePollNut()).Methods(http.MethodGet)
	r.HandleFunc("/loginNotify/{nut}", s.HandleLoginNotify()).Methods(http.MethodGet)
	return r
}

// requestID tags every request so log lines from one exchange correlate.
func (s *HttpServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		log.Debug("request",
			zap.String("id", id), zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *HttpServer) HandleSqrl() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "cannot parse form", http.StatusBadRequest)
			return
		}

		status, body := s.engine.Handle(r.Context(), r.PostForm, remoteIP(r))

		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		w.WriteHeader(status)
		w.Write(body)
	}
}

// HandleLoginURL mints an origin nut and returns the sqrl:// URL the site
// renders as a QR code.
func (s *HttpServer) HandleLoginURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nutVal, raw, err := s.gen.Generate(remoteIP(r))
		if err != nil {
			log.Error("nut generation failed", zap.Error(err))
			http.Error(w, "nut generation failed", http.StatusInternalServerError)
			return
		}

		un := s.factory.URLFor(nutVal)
		un.NutRaw = raw

		if err := s.registry.Issue(r.Context(), un, ""); err != nil {
			log.Error("nut registration failed", zap.Error(err))
			http.Error(w, "nut registration failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"url": un.URL,
			"nut": un.Nut,
		})
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
