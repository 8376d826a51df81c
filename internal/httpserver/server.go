package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sipuha/voicecheck/internal/audit"
	"sipuha/voicecheck/internal/auth"
	"sipuha/voicecheck/internal/config"
	"sipuha/voicecheck/internal/inference"
	"sipuha/voicecheck/internal/observability"
)

// SessionCookie carries "Bearer <token>" for browser clients.
const SessionCookie = "access_token"

type AccountService interface {
	Login(username, password string) (auth.Session, error)
	Register(username, email, password string) (auth.Session, error)
	TokenTTL() time.Duration
}

type IdentityResolver interface {
	Resolve(raw string) (auth.Identity, bool)
}

type MediaDispatcher interface {
	Submit(ctx context.Context, payload io.Reader, identity auth.Identity) (inference.Verdict, error)
	Ready() bool
}

type AuditRecorder interface {
	Record(e audit.Event) error
}

type Deps struct {
	Accounts AccountService
	Sessions IdentityResolver
	Media    MediaDispatcher
	Audit    AuditRecorder
	Metrics  http.Handler
	Logger   *slog.Logger

	// LoginRedirect is where unauthenticated browser requests are sent.
	// Empty means answer 401 instead.
	LoginRedirect  string
	CookieSecure   bool
	MaxUploadBytes int64
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	handler := NewHandler(deps)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(loggerOrDiscard(deps.Logger), handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Media == nil || !deps.Media.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	registerSessionHandlers(mux, deps)
	registerUserHandlers(mux, deps)
	registerMediaHandlers(mux, deps)

	return mux
}

func registerSessionHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			login(w, r, deps)
		case http.MethodDelete:
			logout(w, r, deps)
		case http.MethodGet:
			identity, ok := requireIdentity(w, r, deps)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, identity)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

func login(w http.ResponseWriter, r *http.Request, deps Deps) {
	if deps.Accounts == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req, func(form func(string) string) {
		req.Username, req.Password = form("username"), form("password")
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	session, err := deps.Accounts.Login(req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		auditReq(deps, r, req.Username, audit.ActionLogin, audit.OutcomeDenied, "invalid credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case errors.Is(err, auth.ErrInactiveIdentity):
		auditReq(deps, r, req.Username, audit.ActionLogin, audit.OutcomeDenied, "account inactive")
		writeError(w, http.StatusForbidden, "account inactive")
		return
	default:
		loggerOrDiscard(deps.Logger).Error("login failed", "username", req.Username, "error", err)
		auditReq(deps, r, req.Username, audit.ActionLogin, audit.OutcomeFailed, "")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	auditReq(deps, r, session.Identity.Username, audit.ActionLogin, audit.OutcomeSuccess, "")
	writeSession(w, http.StatusOK, session, deps)
}

func logout(w http.ResponseWriter, r *http.Request, deps Deps) {
	actor := ""
	if deps.Sessions != nil {
		if identity, ok := deps.Sessions.Resolve(credential(r)); ok {
			actor = identity.Username
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   deps.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	auditReq(deps, r, actor, audit.ActionLogout, audit.OutcomeSuccess, "")
	w.WriteHeader(http.StatusNoContent)
}

func registerUserHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Accounts == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}

		var req struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &req, func(form func(string) string) {
			req.Username, req.Email, req.Password = form("username"), form("email"), form("password")
		}); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		session, err := deps.Accounts.Register(req.Username, req.Email, req.Password)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrUserExists):
			auditReq(deps, r, req.Username, audit.ActionRegister, audit.OutcomeDenied, "already registered")
			writeError(w, http.StatusConflict, "username or email already registered")
			return
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password must be 10-128 characters with a letter and a digit")
			return
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		default:
			loggerOrDiscard(deps.Logger).Error("registration failed", "username", req.Username, "error", err)
			auditReq(deps, r, req.Username, audit.ActionRegister, audit.OutcomeFailed, "")
			writeError(w, http.StatusInternalServerError, "registration failed")
			return
		}
		auditReq(deps, r, session.Identity.Username, audit.ActionRegister, audit.OutcomeSuccess, "")
		writeSession(w, http.StatusCreated, session, deps)
	})
}

func writeSession(w http.ResponseWriter, status int, session auth.Session, deps Deps) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if deps.Accounts != nil {
		maxAge = int(deps.Accounts.TokenTTL().Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "Bearer " + session.Token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   deps.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, map[string]any{
		"access_token": session.Token,
		"token_type":   "bearer",
		"username":     session.Identity.Username,
		"is_active":    session.Identity.IsActive,
		"expires_at":   session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// decodeBody reads JSON bodies into dst and hands form-encoded bodies to
// fromForm.
func decodeBody(r *http.Request, dst any, fromForm func(func(string) string)) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return err
		}
		fromForm(func(key string) string { return strings.TrimSpace(r.FormValue(key)) })
		return nil
	default:
		return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	}
}

// credential returns the raw session credential: the Authorization header
// when present, otherwise the session cookie.
func credential(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		return h
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// requireIdentity writes the unauthenticated response itself when it
// returns false.
func requireIdentity(w http.ResponseWriter, r *http.Request, deps Deps) (auth.Identity, bool) {
	if deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return auth.Identity{}, false
	}
	identity, err := auth.Require(deps.Sessions.Resolve(credential(r)))
	if err == nil {
		return identity, true
	}
	if deps.LoginRedirect != "" && r.Header.Get("Authorization") == "" {
		http.Redirect(w, r, deps.LoginRedirect, http.StatusTemporaryRedirect)
		return auth.Identity{}, false
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "not authenticated")
	return auth.Identity{}, false
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP(r),
		)
	})
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey{}).(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func auditReq(deps Deps, r *http.Request, actor, action, outcome, detail string) {
	auditEvent(deps, r, audit.Event{Actor: actor, Action: action, Outcome: outcome, Detail: detail})
}

func auditEvent(deps Deps, r *http.Request, e audit.Event) {
	if deps.Audit == nil {
		return
	}
	e.RequestID = requestIDFromContext(r.Context())
	e.ClientIP = clientIP(r)
	if err := deps.Audit.Record(e); err != nil {
		loggerOrDiscard(deps.Logger).Warn("audit write failed", "action", e.Action, "error", err)
	}
}

func loggerOrDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return observability.Discard()
	}
	return log
}
