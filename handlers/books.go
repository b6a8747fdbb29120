// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/models"
)

type BookHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewBookHandler(db *sql.DB, cfg cliparse.Config) *BookHandler {
	return &BookHandler{db: db, cfg: cfg}
}

// Create handles POST /books
// Adds a nomination to the waitlist on behalf of the caller
func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	member, ok := authenticate(ctx, h.db, h.cfg, w, r)
	if !ok {
		return
	}

	var req models.CreateBookRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	if req.Title == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Author == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "author is required")
		return
	}
	if req.PageCount < 0 || req.ReleaseYear < 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "page_count and release_year must not be negative")
		return
	}

	genres := []string{}
	for _, g := range req.Genres {
		if g = strings.TrimSpace(g); g != "" {
			genres = append(genres, g)
		}
	}
	genresJSON, err := json.Marshal(genres)
	if err != nil {
		slog.Error("failed to encode genres", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add book")
		return
	}

	bookID := auth.NewID()
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO book (id, title, author, page_count, genres, country, author_gender, release_year, member_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, bookID, req.Title, req.Author, req.PageCount, string(genresJSON),
		strings.TrimSpace(req.Country), strings.TrimSpace(req.AuthorGender), req.ReleaseYear, member.ID)
	if err != nil {
		slog.Error("failed to insert book", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add book")
		return
	}

	slog.Info("book nominated", "book_id", bookID, "member_id", member.ID)

	middleware.JSONResponse(w, http.StatusCreated, models.CreateBookResponse{BookID: bookID})
}

// List handles GET /books
// Returns the waitlist, optionally filtered by genre, country and
// author_gender and sorted by title, release_year or page_count
func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticate(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	query := r.URL.Query()
	sortKey := query.Get("sort")
	switch sortKey {
	case "", "title", "release_year", "page_count":
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "sort must be one of: title, release_year, page_count")
		return
	}
	order := query.Get("order")
	if order != "" && order != "asc" && order != "desc" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	books, err := waitlist(ctx, h.db)
	if err != nil {
		slog.Error("failed to query waitlist", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	books = filterBooks(books, query)
	if sortKey != "" {
		sortBooks(books, sortKey, order == "desc")
	}

	middleware.JSONResponse(w, http.StatusOK, books)
}

// Delete handles DELETE /books/{id}
// Only the nominating member or an admin may remove a waitlisted book
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	member, ok := authenticate(ctx, h.db, h.cfg, w, r)
	if !ok {
		return
	}

	bookID := r.PathValue("id")
	book, err := getBook(ctx, h.db, bookID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Book not found")
		return
	}
	if err != nil {
		slog.Error("failed to query book", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if book.MemberID != member.ID && !member.IsAdmin {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the nominating member or an admin can remove this book")
		return
	}
	if book.IsSelected {
		middleware.ErrorResponse(w, http.StatusConflict, "Book has already been picked for a meeting")
		return
	}

	// Ballots of an undecided round keep their book.
	res, err := h.db.ExecContext(ctx, `
		DELETE FROM book WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM vote v JOIN poll p ON p.id = v.poll_id
			WHERE v.book_id = $1 AND v.round = p.round AND p.status = $2
		)
	`, bookID, models.StatusOpen)
	if err != nil {
		slog.Error("failed to delete book", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to remove book")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Book has votes in an open poll round")
		return
	}

	slog.Info("book removed", "book_id", bookID, "member_id", member.ID)
	w.WriteHeader(http.StatusNoContent)
}

func filterBooks(books []models.Book, query url.Values) []models.Book {
	genre := query.Get("genre")
	country := query.Get("country")
	gender := query.Get("author_gender")
	if genre == "" && country == "" && gender == "" {
		return books
	}

	filtered := make([]models.Book, 0, len(books))
	for _, b := range books {
		if country != "" && !strings.EqualFold(b.Country, country) {
			continue
		}
		if gender != "" && !strings.EqualFold(b.AuthorGender, gender) {
			continue
		}
		if genre != "" && !hasGenre(b, genre) {
			continue
		}
		filtered = append(filtered, b)
	}
	return filtered
}

func hasGenre(b models.Book, genre string) bool {
	for _, g := range b.Genres {
		if strings.EqualFold(g, genre) {
			return true
		}
	}
	return false
}

func sortBooks(books []models.Book, key string, desc bool) {
	less := func(a, b models.Book) bool {
		switch key {
		case "release_year":
			return a.ReleaseYear < b.ReleaseYear
		case "page_count":
			return a.PageCount < b.PageCount
		default:
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		}
	}
	sort.SliceStable(books, func(i, j int) bool {
		if desc {
			return less(books[j], books[i])
		}
		return less(books[i], books[j])
	})
}
