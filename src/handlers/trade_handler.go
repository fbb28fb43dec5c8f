package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/optionslog/backend/src/config"
	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/parsers/tradelog"
	"github.com/optionslog/backend/src/processors"
	"github.com/optionslog/backend/src/repository"
	"github.com/optionslog/backend/src/security/validation"
	"github.com/optionslog/backend/src/services"
	"github.com/optionslog/backend/src/utils"
)

type TradeHandler struct {
	tradeService services.TradeService
	importParser *tradelog.Parser
}

func NewTradeHandler(tradeService services.TradeService) *TradeHandler {
	return &TradeHandler{tradeService: tradeService, importParser: tradelog.NewParser()}
}

// writeServiceError maps service errors onto status codes. Anything
// unrecognised is logged and reported as a generic failure.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, validation.ErrValidationFailed), errors.Is(err, processors.ErrOptionNameNoMatch):
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound):
		utils.SendJSONError(w, "not found", http.StatusNotFound)
	case errors.Is(err, services.ErrAttachmentTooLarge):
		utils.SendJSONError(w, err.Error(), http.StatusRequestEntityTooLarge)
	default:
		logger.FromContext(r.Context()).Error("Request failed", "action", action, "error", err)
		utils.SendJSONError(w, "failed to "+action, http.StatusInternalServerError)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// queryList collects a query parameter given repeatedly or comma separated.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func parsePaging(r *http.Request) (int, int, error) {
	page, pageSize := 1, config.Cfg.DefaultPageSize
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("%w: page must be a positive integer", validation.ErrValidationFailed)
		}
		page = n
	}
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("%w: pageSize must be a positive integer", validation.ErrValidationFailed)
		}
		pageSize = n
	}
	return page, utils.ClampInt(pageSize, 1, config.Cfg.MaxPageSize), nil
}

func parseTradeFilter(r *http.Request) (models.TradeFilter, error) {
	page, pageSize, err := parsePaging(r)
	if err != nil {
		return models.TradeFilter{}, err
	}
	filter := models.TradeFilter{Page: page, PageSize: pageSize}

	for _, t := range queryList(r, "ticker") {
		filter.Tickers = append(filter.Tickers, strings.ToUpper(t))
	}
	for _, t := range queryList(r, "type") {
		t = strings.ToUpper(t)
		if err := validation.ValidateOptionType(t); err != nil {
			return models.TradeFilter{}, err
		}
		filter.Types = append(filter.Types, t)
	}
	for _, s := range queryList(r, "status") {
		s = strings.ToLower(s)
		if s != models.TradeStatusOpen && s != models.TradeStatusClosed {
			return models.TradeFilter{}, fmt.Errorf("%w: status must be open or closed", validation.ErrValidationFailed)
		}
		filter.Statuses = append(filter.Statuses, s)
	}
	return filter, nil
}

func (h *TradeHandler) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	filter, err := parseTradeFilter(r)
	if err != nil {
		writeServiceError(w, r, err, "list trades")
		return
	}

	page, err := h.tradeService.ListTrades(r.Context(), userID, filter)
	if err != nil {
		writeServiceError(w, r, err, "list trades")
		return
	}
	utils.SendJSON(w, page, http.StatusOK)
}

func (h *TradeHandler) HandleCreateTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var form models.TradeForm
	if !decodeJSONBody(w, r, &form) {
		return
	}

	trade, err := h.tradeService.CreateTrade(r.Context(), userID, form)
	if err != nil {
		writeServiceError(w, r, err, "create trade")
		return
	}
	utils.SendJSON(w, trade, http.StatusCreated)
}

func (h *TradeHandler) HandleGetTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	trade, err := h.tradeService.GetTrade(r.Context(), userID, chi.URLParam(r, "tradeID"))
	if err != nil {
		writeServiceError(w, r, err, "get trade")
		return
	}
	utils.SendJSON(w, trade, http.StatusOK)
}

func (h *TradeHandler) HandleUpdateTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var form models.TradeUpdateForm
	if !decodeJSONBody(w, r, &form) {
		return
	}

	trade, err := h.tradeService.UpdateTrade(r.Context(), userID, chi.URLParam(r, "tradeID"), form)
	if err != nil {
		writeServiceError(w, r, err, "update trade")
		return
	}
	utils.SendJSON(w, trade, http.StatusOK)
}

func (h *TradeHandler) HandleDeleteTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if err := h.tradeService.DeleteTrade(r.Context(), userID, chi.URLParam(r, "tradeID")); err != nil {
		writeServiceError(w, r, err, "delete trade")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TradeHandler) HandleAddPurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var form models.PurchaseForm
	if !decodeJSONBody(w, r, &form) {
		return
	}

	trade, err := h.tradeService.AddPurchase(r.Context(), userID, chi.URLParam(r, "tradeID"), form)
	if err != nil {
		writeServiceError(w, r, err, "add purchase")
		return
	}
	utils.SendJSON(w, trade, http.StatusCreated)
}

func (h *TradeHandler) HandleUpdatePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var form models.PurchaseForm
	if !decodeJSONBody(w, r, &form) {
		return
	}

	trade, err := h.tradeService.UpdatePurchase(r.Context(), userID, chi.URLParam(r, "tradeID"), chi.URLParam(r, "purchaseID"), form)
	if err != nil {
		writeServiceError(w, r, err, "update purchase")
		return
	}
	utils.SendJSON(w, trade, http.StatusOK)
}

func (h *TradeHandler) HandleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	trade, err := h.tradeService.DeletePurchase(r.Context(), userID, chi.URLParam(r, "tradeID"), chi.URLParam(r, "purchaseID"))
	if err != nil {
		writeServiceError(w, r, err, "delete purchase")
		return
	}
	utils.SendJSON(w, trade, http.StatusOK)
}

func (h *TradeHandler) HandleAddSale(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var form models.SaleForm
	if !decodeJSONBody(w, r, &form) {
		return
	}

	trade, err := h.tradeService.AddSale(r.Context(), userID, chi.URLParam(r, "tradeID"), form)
	if err != nil {
		writeServiceError(w, r, err, "add sale")
		return
	}
	utils.SendJSON(w, trade, http.StatusCreated)
}

func (h *TradeHandler) HandleDeleteSale(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	trade, err := h.tradeService.DeleteSale(r.Context(), userID, chi.URLParam(r, "tradeID"), chi.URLParam(r, "saleID"))
	if err != nil {
		writeServiceError(w, r, err, "delete sale")
		return
	}
	utils.SendJSON(w, trade, http.StatusOK)
}

func (h *TradeHandler) HandleSaleBreakdown(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	results, err := h.tradeService.SaleBreakdown(r.Context(), userID, chi.URLParam(r, "tradeID"))
	if err != nil {
		writeServiceError(w, r, err, "compute sale breakdown")
		return
	}
	utils.SendJSON(w, results, http.StatusOK)
}

var exportHeader = []string{
	"option_name", "stock_ticker", "type", "expiry_date", "strike_price", "broker", "status",
	"total_contracts", "weighted_avg_price", "total_sold", "remaining",
	"gross_pnl", "total_fees", "net_pnl", "created_at",
}

func (h *TradeHandler) HandleExportTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	trades, err := h.tradeService.ExportTrades(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "export trades")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)

	cw := csv.NewWriter(w)
	cw.Write(exportHeader)
	for _, t := range trades {
		// Only free-text cells are quoted; negative P&L must stay numeric.
		row := []string{
			validation.SanitizeForFormulaInjection(t.OptionName),
			validation.SanitizeForFormulaInjection(t.Ticker),
			t.Type, t.ExpiryDate, t.StrikePrice.StringFixed(2),
			validation.SanitizeForFormulaInjection(t.Broker),
			t.Status,
			strconv.Itoa(t.Stats.TotalContracts), t.Stats.WeightedAvgPrice.StringFixed(4),
			strconv.Itoa(t.Stats.TotalSold), strconv.Itoa(t.Stats.Remaining),
			t.Stats.GrossPnL.StringFixed(2), t.Stats.TotalFees.StringFixed(2), t.Stats.NetPnL.StringFixed(2),
			t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		cw.Write(row)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logger.FromContext(r.Context()).Error("Failed to write trade export", "error", err)
	}
}

func (h *TradeHandler) HandleParseOptionName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		utils.SendJSONError(w, "name is required", http.StatusBadRequest)
		return
	}
	parsed, err := processors.DecodeOptionName(name)
	if err != nil {
		writeServiceError(w, r, err, "parse option name")
		return
	}
	utils.SendJSON(w, parsed, http.StatusOK)
}

// HandleImportTrades replays a CSV trade log uploaded in the "file" field.
// Rows the parser or the service refuse come back in "rejected".
func (h *TradeHandler) HandleImportTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	log := logger.FromContext(r.Context())

	limit := config.Cfg.MaxImportSizeBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.SendJSONError(w, fmt.Sprintf("file too large, max %d MB", limit/(1024*1024)), http.StatusRequestEntityTooLarge)
			return
		}
		utils.SendJSONError(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.SendJSONError(w, "missing 'file' field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > limit {
		utils.SendJSONError(w, fmt.Sprintf("file too large, max %d MB", limit/(1024*1024)), http.StatusRequestEntityTooLarge)
		return
	}
	if err := validation.ValidateImportFile(file, header.Filename); err != nil {
		writeServiceError(w, r, err, "import trades")
		return
	}

	activities, parseRejected, err := h.importParser.Parse(file)
	if err != nil {
		log.Warn("Trade log could not be parsed", "userID", userID, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.tradeService.ImportActivities(r.Context(), userID, activities)
	if err != nil {
		writeServiceError(w, r, err, "import trades")
		return
	}
	result.RowsRead += len(parseRejected)
	result.Rejected = append(result.Rejected, parseRejected...)
	sort.Slice(result.Rejected, func(i, j int) bool { return result.Rejected[i].Row < result.Rejected[j].Row })

	utils.SendJSON(w, result, http.StatusOK)
}
