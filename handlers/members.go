// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/models"
)

type MemberHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewMemberHandler(db *sql.DB, cfg cliparse.Config) *MemberHandler {
	return &MemberHandler{db: db, cfg: cfg}
}

// Register handles POST /members
// Creates a member and returns its token exactly once. A valid X-Admin-Key
// header makes the new member an admin.
func (h *MemberHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterMemberRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if n := utf8.RuneCountInString(name); n < 2 || n > 50 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "display_name must be 2-50 characters")
		return
	}

	isAdmin := false
	if key := r.Header.Get("X-Admin-Key"); key != "" {
		if err := auth.ValidateAdminKey(key, h.cfg.AdminKey); err != nil {
			middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid admin key")
			return
		}
		isAdmin = true
	}

	token, err := auth.GenerateMemberToken()
	if err != nil {
		slog.Error("failed to generate member token", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register member")
		return
	}

	memberID := auth.NewID()
	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO member (id, display_name, is_admin, token_hash)
		VALUES ($1, $2, $3, $4)
	`, memberID, name, isAdmin, auth.HashToken(token, h.cfg.TokenSalt))
	if err != nil {
		slog.Error("failed to insert member", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register member")
		return
	}

	slog.Info("member registered", "member_id", memberID, "is_admin", isAdmin)

	middleware.JSONResponse(w, http.StatusCreated, models.RegisterMemberResponse{
		MemberID: memberID,
		Token:    token,
		IsAdmin:  isAdmin,
	})
}

// GetMe handles GET /members/me
func (h *MemberHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	member, ok := authenticate(r.Context(), h.db, h.cfg, w, r)
	if !ok {
		return
	}
	middleware.JSONResponse(w, http.StatusOK, member)
}

// List handles GET /members
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticate(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, display_name, is_admin, created_at
		FROM member
		ORDER BY display_name
	`)
	if err != nil {
		slog.Error("failed to query members", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.IsAdmin, &m.CreatedAt); err != nil {
			slog.Error("failed to scan member", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("failed to iterate members", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, members)
}
