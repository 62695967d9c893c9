package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	goAuthTree "github.com/MrEthical07/goAuthTree"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/MrEthical07/goAuthTree/middleware"
	"github.com/MrEthical07/goAuthTree/tree"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds a continue request; callbacks are small.
const maxBodyBytes = 64 << 10

// Journeys is the engine surface the handler drives. *goAuthTree.Engine satisfies it.
type Journeys interface {
	Start(ctx context.Context, treeName string, req journey.Request) (tree.Result, error)
	Continue(ctx context.Context, journeyID, nonce string, answers []journey.Callback, req journey.Request) (tree.Result, error)
	Resume(ctx context.Context, resumeID string, req journey.Request) (tree.Result, error)
	TreeNames() []string
}

// Throttle rate-limits journey traffic. A non-nil error rejects the request with 429.
type Throttle interface {
	CheckStart(ctx context.Context, ip string) error
	CheckContinue(ctx context.Context, journeyID string) error
}

type Option func(*server)

func WithLogger(log logging.Logger) Option {
	return func(s *server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *server) { s.metrics = h }
}

// WithThrottle limits starts per client address and rounds per journey.
func WithThrottle(t Throttle) Option {
	return func(s *server) { s.throttle = t }
}

// WithTrustedProxyHeader takes the client address from header, e.g. X-Forwarded-For.
func WithTrustedProxyHeader(header string) Option {
	return func(s *server) { s.proxyHeader = header }
}

type server struct {
	journeys    Journeys
	log         logging.Logger
	metrics     http.Handler
	proxyHeader string
	throttle    Throttle
}

// NewHandler returns the journey API.
func NewHandler(j Journeys, opts ...Option) http.Handler {
	s := &server{journeys: j, log: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientIP(s.proxyHeader))

	r.Get("/trees", s.listTrees)
	r.Route("/journeys", func(r chi.Router) {
		r.Get("/resume/{resumeID}", s.resume)
		r.Post("/{tree}", s.start)
		r.Post("/{id}/continue", s.continueJourney)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// continueRequest is the body of POST /journeys/{id}/continue.
type continueRequest struct {
	Nonce     string             `json:"nonce"`
	Callbacks []journey.Callback `json:"callbacks"`
}

type journeyResponse struct {
	JourneyID         string             `json:"journeyId"`
	Status            tree.Status        `json:"status"`
	Nonce             string             `json:"nonce,omitempty"`
	Callbacks         []journey.Callback `json:"callbacks,omitempty"`
	Identity          *journey.Identity  `json:"identity,omitempty"`
	SessionProperties map[string]string  `json:"sessionProperties,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) listTrees(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"trees": s.journeys.TreeNames()})
}

func (s *server) start(w http.ResponseWriter, r *http.Request) {
	if s.throttle != nil {
		if err := s.throttle.CheckStart(r.Context(), middleware.ClientIPFromContext(r.Context())); err != nil {
			s.throttled(w, err)
			return
		}
	}
	res, err := s.journeys.Start(r.Context(), chi.URLParam(r, "tree"), requestFrom(r))
	s.respond(w, r, res, err)
}

func (s *server) continueJourney(w http.ResponseWriter, r *http.Request) {
	var body continueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.log.Debugw("continue: invalid body", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	id := chi.URLParam(r, "id")
	if s.throttle != nil {
		if err := s.throttle.CheckContinue(r.Context(), id); err != nil {
			s.throttled(w, err)
			return
		}
	}
	res, err := s.journeys.Continue(r.Context(), id, body.Nonce, body.Callbacks, requestFrom(r))
	s.respond(w, r, res, err)
}

func (s *server) resume(w http.ResponseWriter, r *http.Request) {
	res, err := s.journeys.Resume(r.Context(), chi.URLParam(r, "resumeID"), requestFrom(r))
	s.respond(w, r, res, err)
}

func (s *server) throttled(w http.ResponseWriter, err error) {
	s.log.Debugw("journey request throttled", "error", err)
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
}

func (s *server) respond(w http.ResponseWriter, r *http.Request, res tree.Result, err error) {
	if err != nil {
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.log.Errorw("journey request failed", "path", r.URL.Path, "error", err)
		}
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}

	for _, c := range res.Cookies {
		http.SetCookie(w, httpCookie(c))
	}
	out := journeyResponse{
		JourneyID: res.JourneyID,
		Status:    res.Status,
		Nonce:     res.Nonce,
		Callbacks: res.Callbacks,
	}
	if res.Status == tree.StatusSuccess {
		out.Identity = res.SideEffects.Identity
		out.SessionProperties = res.SideEffects.SessionProperties
	}
	code := http.StatusOK
	if res.Status == tree.StatusFailure {
		code = http.StatusUnauthorized
	}
	writeJSON(w, code, out)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, goAuthTree.ErrTreeNotFound):
		return http.StatusNotFound, "tree not found"
	case errors.Is(err, goAuthTree.ErrJourneyNotFound):
		return http.StatusNotFound, "journey not found"
	case errors.Is(err, goAuthTree.ErrJourneyExpired):
		return http.StatusGone, "journey expired"
	case errors.Is(err, goAuthTree.ErrStaleAnswers):
		return http.StatusConflict, "answers do not match the current prompt"
	case errors.Is(err, goAuthTree.ErrNotAwaitingAnswers):
		return http.StatusConflict, "journey is not waiting for answers"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func requestFrom(r *http.Request) journey.Request {
	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	locale, _, _ := strings.Cut(r.Header.Get("Accept-Language"), ",")
	return journey.Request{
		ClientIP: middleware.ClientIPFromContext(r.Context()),
		Headers:  r.Header.Clone(),
		Cookies:  cookies,
		Locale:   strings.TrimSpace(locale),
	}
}

func httpCookie(c journey.Cookie) *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge / time.Second),
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: http.SameSiteLaxMode,
	}
	if c.Clear {
		out.Value = ""
		out.MaxAge = -1
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
