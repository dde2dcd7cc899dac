package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/ranking"
)

// RankingHandlers serves ranking value lookups.
type RankingHandlers struct {
	reader *ranking.Reader
	logger *slog.Logger
}

// NewRankingHandlers creates a new RankingHandlers.
func NewRankingHandlers(reader *ranking.Reader, logger *slog.Logger) *RankingHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &RankingHandlers{reader: reader, logger: logger}
}

// RankingResponse is the response payload for GET /rankings/{entry_id}.
type RankingResponse struct {
	EntryID int64   `json:"entry_id"`
	Value   float64 `json:"value"`
}

// GetRanking handles GET /rankings/{entry_id}. Optional query parameters:
// doc_id, category_id, doc_type, and group=1 to enable group fallback.
func (h *RankingHandlers) GetRanking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	idPart := strings.TrimPrefix(r.URL.Path, "/rankings/")
	entryID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || entryID <= 0 {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "Invalid entry id")
		return
	}

	opts := ranking.LookupOptions{
		GroupFallback: r.URL.Query().Get("group") == "1",
	}
	if v := r.URL.Query().Get("doc_id"); v != "" {
		if opts.DocID, err = strconv.ParseInt(v, 10, 64); err != nil {
			WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "Invalid doc_id")
			return
		}
	}
	if v := r.URL.Query().Get("category_id"); v != "" {
		if opts.CategoryID, err = strconv.ParseInt(v, 10, 64); err != nil {
			WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "Invalid category_id")
			return
		}
	}
	if v := r.URL.Query().Get("doc_type"); v != "" {
		dt := catalog.DocType(v)
		if !dt.Valid() {
			WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "Invalid doc_type")
			return
		}
		opts.DocType = dt
	}

	value := h.reader.GetRanking(r.Context(), entryID, opts)
	writeJSON(w, http.StatusOK, RankingResponse{EntryID: entryID, Value: value})
}
