// Package api exposes the custody, signature and verification operations
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/config"
	"github.com/dharsanguruparan/ShieldVault/internal/custody"
	"github.com/dharsanguruparan/ShieldVault/internal/documents"
	"github.com/dharsanguruparan/ShieldVault/internal/retention"
	"github.com/dharsanguruparan/ShieldVault/internal/signature"
	"github.com/dharsanguruparan/ShieldVault/internal/tracker"
)

// Presigner hands out temporary content URLs.
type Presigner interface {
	PresignContentURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Deps are the components the server drives.
type Deps struct {
	Registry   *documents.Registry
	Resolver   *retention.Resolver
	Custody    *custody.Manager
	Signatures *signature.Engine
	Tracker    *tracker.Tracker
	Presigner  Presigner
	Logger     *zap.Logger
}

// Server exposes HTTP endpoints.
type Server struct {
	cfg *config.Config
	Deps
	logger *zap.Logger
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, Deps: deps, logger: logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Get("/policies", s.handleListPolicies)
	r.Post("/policies/resolve", s.handleResolvePolicy)
	r.Get("/policies/{policyID}", s.handleGetPolicy)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Route("/{documentID}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Get("/activity", s.handleActivity)
			r.Get("/content-url", s.handleContentURL)
			r.Post("/verification", s.handleSubmit)
			r.Get("/custody", s.handleGetCustody)
			r.Post("/lock", s.handleLock)
			r.Post("/unlock", s.handleUnlock)
			r.Route("/signature", func(r chi.Router) {
				r.Post("/", s.handleCreateSignature)
				r.Get("/", s.handleGetSignature)
				r.Post("/fields", s.handlePlaceFields)
				r.Get("/fields", s.handleFieldsOnPage)
				r.Post("/send", s.handleSend)
				r.Route("/signers/{signerID}", func(r chi.Router) {
					r.Get("/invitation", s.handleValidateInvitation)
					r.Post("/preview", s.handlePreview)
					r.Post("/capture", s.handleCapture)
					r.Post("/reject", s.handleReject)
				})
			})
		})
	})

	r.Route("/verifications/{trackingID}", func(r chi.Router) {
		r.Get("/", s.handlePoll)
		r.Post("/processing", s.handleMarkProcessing)
		r.Post("/result", s.handleReport)
	})

	r.Route("/transactions/{transactionID}", func(r chi.Router) {
		r.Get("/documents", s.handleTransactionDocuments)
		r.Post("/lock", s.handleLockAll)
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.Address))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func newRequestID() string { return "req_" + uuid.NewString() }

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
