package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"empirion/internal/auth"
	"empirion/internal/config"
	"empirion/internal/realtime"
	"empirion/internal/simulation"
	"empirion/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

// Authenticator is the subset of the GoTrue client the server needs.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, name string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.SupabaseUser, error)
}

// Backend is implemented by *store.Store.
type Backend interface {
	EnsureProfile(ctx context.Context, userID, email, name string) error
	GetProfile(ctx context.Context, userID string) (store.UserProfile, error)

	CreateChampionship(ctx context.Context, in store.CreateChampionshipInput) (store.Championship, error)
	GetChampionship(ctx context.Context, id string) (store.Championship, error)
	GetPublicChampionships(ctx context.Context, limit int) ([]store.Championship, error)
	UpdateEcosystem(ctx context.Context, userID, championshipID string, eco simulation.EcosystemConfig) (simulation.EcosystemConfig, error)
	GetEcosystem(ctx context.Context, championshipID string) (simulation.EcosystemConfig, error)
	StartChampionship(ctx context.Context, userID, championshipID string) (store.Championship, error)

	CreateTeam(ctx context.Context, in store.CreateTeamInput) (store.Team, error)
	ListTeams(ctx context.Context, championshipID string) ([]store.Team, error)
	JoinTeam(ctx context.Context, userID, championshipID, teamID string) error

	SaveDecisions(ctx context.Context, in store.SaveDecisionsInput) (store.DecisionRecord, error)
	GetDecisions(ctx context.Context, userID, championshipID, teamID string, round int) (store.DecisionRecord, error)
	ListRoundDecisions(ctx context.Context, userID, championshipID string, round int) (map[string]simulation.DecisionData, error)
	RoundSubmissionStatus(ctx context.Context, championshipID string, round int) ([]store.SubmissionStatus, error)

	SubmitCommunityRating(ctx context.Context, in store.RatingInput) (store.CommunityRating, error)
	ListCommunityRatings(ctx context.Context, championshipID string) (store.RatingSummary, error)
	GetSiteContent(ctx context.Context, slug, locale string) (store.SiteContent, error)
	UpsertSiteContent(ctx context.Context, userID string, in store.SiteContent) (store.SiteContent, error)
}

type Server struct {
	cfg   config.APIConfig
	log   *slog.Logger
	auth  Authenticator
	store Backend
	hub   *realtime.Hub
	mux   *chi.Mux
}

// New wires the router. hub may be nil, in which case the monitor endpoint
// answers 404.
func New(cfg config.APIConfig, logger *slog.Logger, authClient Authenticator, backend Backend, hub *realtime.Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		auth:  authClient,
		store: backend,
		hub:   hub,
		mux:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout()))

			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Post("/projections", s.handleProjection)
			r.Get("/championships/public", s.handlePublicChampionships)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/me", s.handleMe)

				r.Post("/championships", s.handleCreateChampionship)
				r.Get("/championships/{id}", s.handleGetChampionship)
				r.Post("/championships/{id}/start", s.handleStartChampionship)
				r.Get("/championships/{id}/ecosystem", s.handleGetEcosystem)
				r.Put("/championships/{id}/ecosystem", s.handleUpdateEcosystem)
				r.Get("/championships/{id}/teams", s.handleListTeams)
				r.Post("/championships/{id}/teams", s.handleCreateTeam)
				r.Post("/championships/{id}/teams/{team}/join", s.handleJoinTeam)

				r.Put("/championships/{id}/teams/{team}/decisions/{round}", s.handleSaveDecisions)
				r.Get("/championships/{id}/teams/{team}/decisions/{round}", s.handleGetDecisions)
				r.Get("/championships/{id}/teams/{team}/decisions/{round}/projection", s.handleDecisionProjection)
				r.Get("/championships/{id}/rounds/{round}/status", s.handleRoundStatus)
				r.Get("/championships/{id}/rounds/{round}/report", s.handleRoundReport)

				r.Get("/championships/{id}/ratings", s.handleListRatings)
				r.Post("/championships/{id}/ratings", s.handleSubmitRating)
				r.Get("/site-content/{slug}", s.handleGetSiteContent)
				r.Put("/site-content/{slug}", s.handleUpsertSiteContent)
			})
		})

		// Long-lived; kept out of the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/championships/{id}/monitor", s.handleMonitor)
		})
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.RequestTimeout
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			// Browsers cannot set headers on a websocket handshake.
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password), strings.TrimSpace(in.Name))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if session.User.ID != "" {
		if err := s.store.EnsureProfile(r.Context(), session.User.ID, session.User.Email, in.Name); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.store.EnsureProfile(r.Context(), session.User.ID, session.User.Email, session.User.DisplayName()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	session, err := s.auth.Refresh(r.Context(), strings.TrimSpace(in.RefreshToken))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	profile, err := s.store.GetProfile(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func writeDomainError(w http.ResponseWriter, err error) {
	var apiErr *auth.APIError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrDuplicateIdempotency), errors.Is(err, store.ErrTxConflict), errors.Is(err, store.ErrArenaClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrInvalidRound),
		errors.Is(err, store.ErrInvalidRating), errors.Is(err, store.ErrInvalidName),
		errors.Is(err, simulation.ErrInvalidBranch), errors.Is(err, simulation.ErrInvalidStrategy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		writeError(w, apiErr.Status, apiErr.Message)
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func roundParam(r *http.Request) (int, error) {
	round, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil || round <= 0 {
		return 0, fmt.Errorf("%w: round must be a positive integer", store.ErrInvalidRound)
	}
	return round, nil
}
