package handlers

import (
	"database/sql"
	"net/http"

	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/model"
	"github.com/optionslog/backend/src/utils"
)

type StatsHandler struct {
	db *sql.DB
}

func NewStatsHandler(db *sql.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

// HandleGetUserCount serves the public registered-user counter.
func (h *StatsHandler) HandleGetUserCount(w http.ResponseWriter, r *http.Request) {
	total, err := model.GetMetric(h.db, model.MetricTotalUsers)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to read user count", "error", err)
		utils.SendJSONError(w, "failed to read user count", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, map[string]int64{"totalUsers": total}, http.StatusOK)
}
