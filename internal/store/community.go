package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxCommentRunes = 500

func (s *Store) SubmitCommunityRating(ctx context.Context, in RatingInput) (CommunityRating, error) {
	if in.Score < 1 || in.Score > 5 {
		return CommunityRating{}, ErrInvalidRating
	}
	in.Comment = truncateRunes(strings.TrimSpace(in.Comment), maxCommentRunes)
	out := CommunityRating{
		ChampionshipID: in.ChampionshipID,
		UserID:         in.UserID,
		Score:          in.Score,
		Comment:        in.Comment,
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO arena.community_ratings (championship_id, user_id, score, comment, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (championship_id, user_id)
		DO UPDATE SET score = EXCLUDED.score, comment = EXCLUDED.comment, updated_at = now()
		RETURNING updated_at
	`, in.ChampionshipID, in.UserID, in.Score, in.Comment).Scan(&out.UpdatedAt)
	if err != nil {
		return CommunityRating{}, s.handleStoreError("submit community rating", err)
	}
	return out, nil
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func (s *Store) ListCommunityRatings(ctx context.Context, championshipID string) (RatingSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT championship_id, user_id, score, comment, updated_at
		FROM arena.community_ratings
		WHERE championship_id = $1
		ORDER BY updated_at DESC
		LIMIT 200
	`, championshipID)
	if err != nil {
		return RatingSummary{}, s.handleStoreError("list community ratings", err)
	}
	defer rows.Close()
	out := RatingSummary{Ratings: make([]CommunityRating, 0)}
	for rows.Next() {
		var r CommunityRating
		if err := rows.Scan(&r.ChampionshipID, &r.UserID, &r.Score, &r.Comment, &r.UpdatedAt); err != nil {
			return RatingSummary{}, s.handleStoreError("list community ratings", err)
		}
		out.Ratings = append(out.Ratings, r)
	}
	if err := rows.Err(); err != nil {
		return RatingSummary{}, s.handleStoreError("list community ratings", err)
	}
	out.Average, out.Count = summarizeRatings(out.Ratings)
	return out, nil
}

func summarizeRatings(ratings []CommunityRating) (float64, int) {
	if len(ratings) == 0 {
		return 0, 0
	}
	total := 0
	for _, r := range ratings {
		total += r.Score
	}
	return float64(total) / float64(len(ratings)), len(ratings)
}

// GetSiteContent falls back to the default locale when the requested one has
// no row.
func (s *Store) GetSiteContent(ctx context.Context, slug, locale string) (SiteContent, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	locale = normalizeLocale(locale)
	out := SiteContent{Slug: slug}
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT locale, body, updated_at
		FROM arena.site_content
		WHERE slug = $1 AND locale IN ($2, $3)
		ORDER BY (locale = $2) DESC
		LIMIT 1
	`, slug, locale, defaultLocale).Scan(&out.Locale, &raw, &out.UpdatedAt)
	if err != nil {
		return SiteContent{}, s.handleStoreError("get site content", err)
	}
	if err := json.Unmarshal(raw, &out.Body); err != nil {
		return SiteContent{}, s.handleStoreError("get site content", fmt.Errorf("decode body: %w", err))
	}
	return out, nil
}

func (s *Store) UpsertSiteContent(ctx context.Context, userID string, in SiteContent) (SiteContent, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return SiteContent{}, err
	}
	if profile.Role != RoleAdmin {
		return SiteContent{}, ErrForbidden
	}
	in.Slug = strings.ToLower(strings.TrimSpace(in.Slug))
	if in.Slug == "" {
		return SiteContent{}, fmt.Errorf("%w: slug is required", ErrInvalidInput)
	}
	in.Locale = normalizeLocale(in.Locale)
	raw, err := json.Marshal(in.Body)
	if err != nil {
		return SiteContent{}, err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO arena.site_content (slug, locale, body, updated_by, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, now())
		ON CONFLICT (slug, locale)
		DO UPDATE SET body = EXCLUDED.body, updated_by = EXCLUDED.updated_by, updated_at = now()
		RETURNING updated_at
	`, in.Slug, in.Locale, string(raw), userID).Scan(&in.UpdatedAt)
	if err != nil {
		return SiteContent{}, s.handleStoreError("upsert site content", err)
	}
	return in, nil
}

const defaultLocale = "pt"

func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if len(locale) != 2 {
		return defaultLocale
	}
	return locale
}

// EnsureProfile creates the profile row for a freshly authenticated user. The
// first write wins; later logins leave name and role alone.
func (s *Store) EnsureProfile(ctx context.Context, userID, email, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = nameFromEmail(email)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO arena.users (user_id, email, name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, strings.ToLower(strings.TrimSpace(email)), name, RolePlayer)
	if err != nil {
		return s.handleStoreError("ensure profile", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	var out UserProfile
	err := s.db.QueryRow(ctx, `
		SELECT user_id, email, name, role, created_at
		FROM arena.users
		WHERE user_id = $1
	`, userID).Scan(&out.UserID, &out.Email, &out.Name, &out.Role, &out.CreatedAt)
	if err != nil {
		return UserProfile{}, s.handleStoreError("get profile", err)
	}
	return out, nil
}

func nameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "player"
	}
	local = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return ' '
		}
	}, local)
	local = strings.Join(strings.Fields(local), " ")
	if local == "" {
		return "player"
	}
	if len(local) > 48 {
		local = local[:48]
	}
	return local
}
