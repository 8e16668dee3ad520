package sourcing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sourcelane/sourcelane/internal/shared"
)

func TestListCandidatesOrdersLines(t *testing.T) {
	repo := newMemorySourcingRepo()
	rfq := repo.addRFQ(1, "USD")
	day := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	quote := repo.addQuote(rfq.ID, 1, 10, "USD", day)
	var itemIDs []int64
	for lineNo := 1; lineNo <= 5; lineNo++ {
		item := repo.addItem(rfq.ID, lineNo, 10)
		repo.addQuoteItem(quote.ID, item.ID, 10, int64(100*lineNo), "USD")
		itemIDs = append(itemIDs, item.ID)
	}

	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), newTestEngine(repo, nil))
	router := chi.NewRouter()
	handler.MountRoutes(router)

	var body struct {
		Lines []struct {
			RFQItemID int64 `json:"rfq_item_id"`
		} `json:"lines"`
	}
	// Map iteration order varies, so take several samples.
	for attempt := 0; attempt < 5; attempt++ {
		req := httptest.NewRequest(http.MethodGet, "/rfqs/1/candidates", nil)
		req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 7, CompanyID: 1}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Lines, 5)
		for i, line := range body.Lines {
			require.Equal(t, itemIDs[i], line.RFQItemID)
		}
	}
}
