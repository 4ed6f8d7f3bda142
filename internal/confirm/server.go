// Package confirm serves the QRIS confirmation pages the customer's phone
// opens after scanning the kiosk's QR code.
package confirm

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/payment"
	"github.com/roach88/kopikiosk/internal/sales"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Payments is the slice of the payment registry the server needs.
type Payments interface {
	View(ctx context.Context, token string) (payment.Snapshot, error)
	Confirm(ctx context.Context, token string) (payment.Snapshot, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server is the confirmation web server.
type Server struct {
	payments Payments
	logger   *slog.Logger
	router   *chi.Mux
}

// New builds the router.
func New(payments Payments, opts ...Option) *Server {
	s := &Server{
		payments: payments,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLog)
	r.Use(chimw.Recoverer)

	r.Get("/", s.index)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/search", s.search)
	r.Get("/process_search", s.processSearch)
	r.Post("/process_search", s.processSearch)
	r.Get("/success", s.success)
	r.Get("/failure", s.failure)

	r.Route("/api/sessions/{token}", func(r chi.Router) {
		r.Get("/", s.apiView)
		r.Post("/confirm", s.apiConfirm)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("confirmation server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down confirmation server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}

type pageData struct {
	Title    string
	Session  payment.Snapshot
	Amount   string
	Deadline string
	Token    string
	Message  string
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("render page", "page", name, "error", err)
	}
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("ref_id"); token != "" {
		http.Redirect(w, r, "/search?ref_id="+url.QueryEscape(token), http.StatusFound)
		return
	}
	s.renderFailure(w, http.StatusNotFound, "Silakan pindai kode QR di kiosk.")
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("ref_id")
	snap, err := s.payments.View(r.Context(), token)
	if err != nil {
		s.renderFailure(w, statusFor(err), failureMessage(err))
		return
	}
	s.render(w, http.StatusOK, "search", pageData{
		Title:    "Konfirmasi Pembayaran",
		Session:  snap,
		Amount:   sales.FormatRupiah(snap.Amount),
		Deadline: snap.Deadline.Format("15:04:05"),
	})
}

func (s *Server) processSearch(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("ref_id")
	if _, err := s.payments.Confirm(r.Context(), token); err != nil {
		s.logger.Info("payment confirmation refused", "token", token, "code", kioskerr.CodeOf(err))
		http.Redirect(w, r, "/failure?reason="+reasonFor(err), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/success?ref_id="+url.QueryEscape(token), http.StatusSeeOther)
}

func (s *Server) success(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "success", pageData{
		Title: "Pembayaran Berhasil",
		Token: r.URL.Query().Get("ref_id"),
	})
}

func (s *Server) failure(w http.ResponseWriter, r *http.Request) {
	msg := "Pembayaran tidak dapat diproses."
	switch r.URL.Query().Get("reason") {
	case "expired":
		msg = "Sesi pembayaran telah kedaluwarsa."
	case "not_found":
		msg = "Reference ID tidak ditemukan."
	}
	s.renderFailure(w, http.StatusOK, msg)
}

func (s *Server) renderFailure(w http.ResponseWriter, status int, msg string) {
	s.render(w, status, "failure", pageData{Title: "Pembayaran Gagal", Message: msg})
}

func (s *Server) apiView(w http.ResponseWriter, r *http.Request) {
	snap, err := s.payments.View(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) apiConfirm(w http.ResponseWriter, r *http.Request) {
	snap, err := s.payments.Confirm(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func statusFor(err error) int {
	switch {
	case kioskerr.IsNotFound(err):
		return http.StatusNotFound
	case kioskerr.IsSessionExpired(err):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func reasonFor(err error) string {
	switch {
	case kioskerr.IsNotFound(err):
		return "not_found"
	case kioskerr.IsSessionExpired(err):
		return "expired"
	default:
		return "error"
	}
}

func failureMessage(err error) string {
	switch {
	case kioskerr.IsNotFound(err):
		return "Reference ID tidak ditemukan."
	case kioskerr.IsSessionExpired(err):
		return "Sesi pembayaran telah kedaluwarsa."
	default:
		return "Pembayaran tidak dapat diproses."
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := string(kioskerr.CodeOf(err))
	if code == "" {
		code = "INTERNAL"
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": failureMessage(err),
			"code":    code,
			"status":  status,
		},
	})
}
