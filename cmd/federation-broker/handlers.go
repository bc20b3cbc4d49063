package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
	"github.com/tailscale-portfolio/rest-user-federation/internal/oidcauth"
	"github.com/tailscale-portfolio/rest-user-federation/internal/session"
	"github.com/tailscale-portfolio/rest-user-federation/internal/userstore"
)

const maxLoginBody = 16 << 10

type authenticator interface {
	Authenticate(ctx context.Context, realm, loginID, password string) (*identity.LocalUser, error)
}

type tokenValidator interface {
	ValidateToken(ctx context.Context, token string, requiredScopes []string) (*oidcauth.Claims, error)
}

type server struct {
	logger       *slog.Logger
	reconciler   authenticator
	store        userstore.Store
	sessions     *session.Manager
	defaultRealm string

	admin       tokenValidator
	adminScopes []string
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/login", s.handleLogin)
	mux.HandleFunc("POST /v1/realms/{realm}/login", s.handleLogin)
	mux.HandleFunc("GET /v1/session", s.handleSession)
	mux.HandleFunc("POST /v1/logout", s.handleLogout)

	if s.admin != nil {
		mux.Handle("GET /v1/realms/{realm}/users", s.requireScopes(http.HandlerFunc(s.handleListUsers)))
		mux.Handle("GET /v1/realms/{realm}/users/{username}", s.requireScopes(http.HandlerFunc(s.handleGetUser)))
	}

	return requestLogger(s.logger)(recoveryHandler(mux))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	realm := s.realm(r)

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid login payload"))
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, errors.New("username required"))
		return
	}

	user, err := s.reconciler.Authenticate(r.Context(), realm, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) || errors.Is(err, identity.ErrInvalidCredentials) {
			s.logger.InfoContext(r.Context(), "login rejected", "realm", realm, "login_id", req.Username, "error", err)
			writeError(w, http.StatusUnauthorized, errors.New("invalid username or password"))
			return
		}
		s.logger.ErrorContext(r.Context(), "login failed", "realm", realm, "login_id", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("login failed"))
		return
	}

	if err := s.sessions.Issue(w, user); err != nil {
		s.logger.ErrorContext(r.Context(), "issue session", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("login failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	data, err := s.sessions.Read(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("no active session"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": data})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	realm := s.realm(r)
	users, err := s.store.List(r.Context(), realm)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if users == nil {
		users = []identity.LocalUser{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"realm":       realm,
		"resultCount": len(users),
		"users":       users,
		"actor":       actorFromContext(r.Context()),
	})
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	realm := s.realm(r)
	user, err := s.store.FindByUsername(r.Context(), realm, r.PathValue("username"))
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  user,
		"actor": actorFromContext(r.Context()),
	})
}

func (s *server) realm(r *http.Request) string {
	if realm := strings.TrimSpace(r.PathValue("realm")); realm != "" {
		return realm
	}
	return s.defaultRealm
}

type ctxKey string

const claimsKey ctxKey = "adminClaims"
const requestIDKey ctxKey = "requestID"

var requestCounter uint64

func (s *server) requireScopes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, err := oidcauth.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		claims, err := s.admin.ValidateToken(r.Context(), rawToken, s.adminScopes)
		if err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(ctx context.Context) map[string]any {
	claims, ok := ctx.Value(claimsKey).(*oidcauth.Claims)
	if !ok || claims == nil {
		return nil
	}
	return map[string]any{
		"subject": claims.Subject,
		"scopes":  strings.Fields(claims.Scope),
		"roles":   claims.Roles,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := fmt.Sprintf("req-%d", atomic.AddUint64(&requestCounter, 1))
			rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			ctx := context.WithValue(r.Context(), requestIDKey, id)
			next.ServeHTTP(rr, r.WithContext(ctx))

			logger.Info("request complete",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rr.status,
				"bytes", rr.size,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", id,
			)
		})
	}
}

func recoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeError(w, http.StatusInternalServerError, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	n, err := rr.ResponseWriter.Write(b)
	rr.size += n
	return n, err
}
