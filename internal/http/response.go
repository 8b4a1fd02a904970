package http

import (
	"encoding/json"
	"net/http"

	"github.com/mailqueue/mailqueue/internal/domain"
)

// envelope is the uniform response shape: {success, data} on the happy
// path, {success, error:{code, message, details}} otherwise.
type envelope struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *domain.Error `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeError maps domain errors to their pinned status; anything else
// is an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	domainErr, ok := domain.AsError(err)
	if !ok {
		domainErr = domain.NewError(domain.ErrCodeInternal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(domainErr.HTTPStatus())
	json.NewEncoder(w).Encode(envelope{Success: false, Error: domainErr})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// paginated wraps offset-paged list responses.
type paginated struct {
	Data       interface{} `json:"data"`
	Pagination pagination  `json:"pagination"`
}

type pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

func writePage(w http.ResponseWriter, status int, items interface{}, total int64, limit, offset int, count int) {
	writeJSON(w, status, paginated{
		Data: items,
		Pagination: pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: int64(offset+count) < total,
		},
	})
}
