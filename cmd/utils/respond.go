package utils

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mediscan/mediscan-server/cmd/apperr"
)

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError answers with {"error": ...} and the status apperr maps err to.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apperr.Status(err), map[string]string{"error": apperr.PublicMessage(err)})
}

func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidInput("invalid request body", err)
	}
	return nil
}

// Page reads page and page_size query parameters, clamping page_size to max.
func Page(r *http.Request, defaultSize, max int) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if size < 1 {
		size = defaultSize
	}
	if size > max {
		size = max
	}
	return page, size
}

type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
}

func NewPagination(page, size int, total int64) Pagination {
	pages := int(total) / size
	if int(total)%size != 0 {
		pages++
	}
	return Pagination{CurrentPage: page, PageSize: size, TotalItems: total, TotalPages: pages}
}
