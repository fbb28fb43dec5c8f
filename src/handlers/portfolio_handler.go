package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/optionslog/backend/src/services"
	"github.com/optionslog/backend/src/utils"
)

type PortfolioHandler struct {
	portfolioService services.PortfolioService
	chartRenderer    services.ChartRenderer
}

func NewPortfolioHandler(portfolioService services.PortfolioService, chartRenderer services.ChartRenderer) *PortfolioHandler {
	return &PortfolioHandler{
		portfolioService: portfolioService,
		chartRenderer:    chartRenderer,
	}
}

func (h *PortfolioHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	summary, err := h.portfolioService.GetSummary(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "compute portfolio summary")
		return
	}
	utils.WriteWithETag(w, r, summary)
}

func (h *PortfolioHandler) HandleGetAccountValueChart(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	chart, err := h.portfolioService.GetAccountValueChart(r.Context(), userID, r.URL.Query().Get("range"))
	if err != nil {
		writeServiceError(w, r, err, "compute account value chart")
		return
	}
	utils.WriteWithETag(w, r, chart)
}

func (h *PortfolioHandler) HandleGetAccountValueChartPNG(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	chart, err := h.portfolioService.GetAccountValueChart(r.Context(), userID, r.URL.Query().Get("range"))
	if err != nil {
		writeServiceError(w, r, err, "compute account value chart")
		return
	}

	// Rendered into a buffer so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := h.chartRenderer.RenderAccountValue(&buf, chart); err != nil {
		writeServiceError(w, r, err, "render account value chart")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Write(buf.Bytes())
}
