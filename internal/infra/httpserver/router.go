package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-codesec/internal/middleware"
)

// Analyzer is the use-case behind POST /api/analyze.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (analysis.SecurityReport, error)
}

type Options struct {
	Logger         *zap.Logger
	CORSOrigins    []string
	StaticDir      string
	MaxCodeBytes   int
	RequestTimeout time.Duration
	Readiness      map[string]middleware.HealthChecker
}

type Router struct {
	svc    Analyzer
	opts   Options
	logger *zap.Logger
}

var errBadBody = errors.New("invalid request body")

func NewRouter(svc Analyzer, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxCodeBytes <= 0 {
		opts.MaxCodeBytes = middleware.DefaultMaxCodeBytes
	}
	r := &Router{svc: svc, opts: opts, logger: opts.Logger}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.Logging(opts.Logger.Named("http")))
	mux.Use(middleware.Metrics)
	mux.Use(chimw.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	mux.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Cybersecurity Analyzer API"})
	})
	mux.With(middleware.LimitBody(int64(opts.MaxCodeBytes)*2)).
		Post("/api/analyze", r.wrap(r.handleAnalyze))

	mux.Get("/healthz", middleware.LivenessHandler)
	mux.Get("/readyz", middleware.HealthHandler(opts.Readiness))
	mux.Handle("/metrics", middleware.MetricsHandler())

	// frontend build, only when present
	if opts.StaticDir != "" {
		if st, err := os.Stat(opts.StaticDir); err == nil && st.IsDir() {
			mux.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
		}
	}
	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps pipeline errors to status codes. Error bodies are {"detail": "..."}.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
		case errors.Is(err, errBadBody):
			writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		case errors.Is(err, analysis.ErrValidation):
			writeDetail(w, http.StatusBadRequest, detail(err, analysis.ErrValidation))
		case errors.Is(err, analysis.ErrConfiguration):
			writeDetail(w, http.StatusInternalServerError, detail(err, analysis.ErrConfiguration))
		default:
			r.logger.Error("analysis failed", zap.Error(err), zap.String("request_id", chimw.GetReqID(req.Context())))
			writeDetail(w, http.StatusInternalServerError, "Analysis failed: "+err.Error())
		}
	}
}

// POST /api/analyze
// Body: {"code": "<source>"}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body analysis.Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return errBadBody
	}
	if err := middleware.ValidateSourceCode(body.Code, r.opts.MaxCodeBytes); err != nil {
		return err
	}
	body.Code = middleware.SanitizeCode(body.Code)

	ctx := req.Context()
	if r.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RequestTimeout)
		defer cancel()
	}

	report, err := r.svc.Analyze(ctx, body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, report)
	return nil
}

// detail strips the sentinel prefix so clients see only the message.
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
