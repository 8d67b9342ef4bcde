package api

import (
	"net/http"

	"empirion/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListCommunityRatings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.store.SubmitCommunityRating(r.Context(), store.RatingInput{
		UserID:         user.UserID,
		ChampionshipID: chi.URLParam(r, "id"),
		Score:          in.Score,
		Comment:        in.Comment,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSiteContent(w http.ResponseWriter, r *http.Request) {
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		locale = r.Header.Get("Accept-Language")
	}
	out, err := s.store.GetSiteContent(r.Context(), chi.URLParam(r, "slug"), locale)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertSiteContent(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Locale string         `json:"locale"`
		Body   map[string]any `json:"body"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.store.UpsertSiteContent(r.Context(), user.UserID, store.SiteContent{
		Slug:   chi.URLParam(r, "slug"),
		Locale: in.Locale,
		Body:   in.Body,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
