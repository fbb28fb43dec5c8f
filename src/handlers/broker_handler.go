package handlers

import (
	"net/http"

	"github.com/optionslog/backend/src/processors"
	"github.com/optionslog/backend/src/utils"
)

type BrokerHandler struct {
	fees *processors.FeeSchedule
}

func NewBrokerHandler(fees *processors.FeeSchedule) *BrokerHandler {
	return &BrokerHandler{fees: fees}
}

// HandleListBrokers returns the fee schedule in declaration order.
func (h *BrokerHandler) HandleListBrokers(w http.ResponseWriter, r *http.Request) {
	utils.WriteWithETag(w, r, map[string]interface{}{
		"brokers":       h.fees.Brokers(),
		"defaultBroker": processors.DefaultBroker,
	})
}
