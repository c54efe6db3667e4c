package mailtrack_api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/BearBump/TrackMail/internal/models"
	"github.com/BearBump/TrackMail/internal/services/health"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
)

const maxBodyBytes = 64 << 10

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

type Service interface {
	SendTrackedMail(ctx context.Context, in models.SendMailInput) (string, error)
	RecordOpen(ctx context.Context, trackingID, sourceIP, userAgent string) string
	GetTracking(ctx context.Context, trackingID string) (*models.TrackedMail, error)
}

type HealthReporter interface {
	Report(ctx context.Context) health.Report
}

type Options struct {
	// TrustProxy включает разбор X-Forwarded-For / X-Real-IP (chi RealIP).
	TrustProxy     bool
	AllowedOrigins []string
}

type MailTrackAPI struct {
	svc    Service
	health HealthReporter
	opts   Options
}

func New(svc Service, h HealthReporter, opts Options) *MailTrackAPI {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &MailTrackAPI{svc: svc, health: h, opts: opts}
}

// Endpoints lists the public routes for the health report.
func Endpoints() map[string]string {
	return map[string]string{
		"sendMail":    "POST /send-mail",
		"trackMail":   "GET /track-mail/{trackingId}",
		"health":      "GET /health",
		"ping":        "GET /ping",
		"getTracking": "GET /trackings/{trackingId}",
		"metrics":     "GET /metrics",
	}
}

func (a *MailTrackAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if a.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Пиксель регистрируем до Recoverer: он сам гасит панику и всё равно отдаёт картинку.
	r.Get("/track-mail/{trackingId}", a.TrackMail)
	r.Get("/track-mail/", a.TrackMail)
	r.Head("/track-mail/{trackingId}", a.TrackMail)
	r.Head("/track-mail/", a.TrackMail)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Post("/send-mail", a.SendMail)
		r.Get("/health", a.Health)
		r.Get("/ping", a.Ping)
		r.Get("/trackings/{trackingId}", a.GetTracking)
	})
	return r
}

type sendMailRequest struct {
	Emails   []string `json:"emails"`
	Password string   `json:"password"`
}

type sendMailResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	TrackingID string `json:"trackingId"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (a *MailTrackAPI) SendMail(w http.ResponseWriter, r *http.Request) {
	var req sendMailRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, models.WithKind(models.ErrValidation, errors.New("body must be {emails: [string], password: string}")))
		return
	}

	id, err := a.svc.SendTrackedMail(r.Context(), models.SendMailInput{
		Emails:   req.Emails,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendMailResponse{
		Success:    true,
		Message:    "Email sent successfully",
		TrackingID: id,
	})
}

// TrackMail always answers with the pixel. Recording failures only reach the log.
// HEAD (link scanners, proxy prefetch) gets the same headers and records nothing.
func (a *MailTrackAPI) TrackMail(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic while recording open", "panic", rec)
		}
		servePixel(w)
	}()

	if r.Method == http.MethodHead {
		return
	}
	id := chi.URLParam(r, "trackingId")
	a.svc.RecordOpen(r.Context(), id, clientIP(r), r.UserAgent())
}

func (a *MailTrackAPI) Health(w http.ResponseWriter, r *http.Request) {
	rep := a.health.Report(r.Context())

	if wantsHTML(r) {
		var buf bytes.Buffer
		if err := health.RenderHTML(&buf, rep); err != nil {
			slog.Error("render health html", "error", err.Error())
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, rep)
}

func (a *MailTrackAPI) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

func (a *MailTrackAPI) GetTracking(w http.ResponseWriter, r *http.Request) {
	t, err := a.svc.GetTracking(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func wantsHTML(r *http.Request) bool {
	switch r.URL.Query().Get("format") {
	case "json":
		return false
	case "html":
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.HasPrefix(accept, "application/json")
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError: ValidationError и AuthError -> 400 (неверный пароль тоже 400),
// NotFound -> 404, остальное -> 500 без деталей.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrAuth):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid password"})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "tracking not found"})
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
