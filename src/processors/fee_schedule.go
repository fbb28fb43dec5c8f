// src/processors/fee_schedule.go
package processors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/optionslog/backend/src/models"
	"github.com/shopspring/decimal"
)

// FeeSchedule maps a broker name to its per-contract commission.
// Lookups are exact-match; unknown brokers cost nothing.
type FeeSchedule struct {
	fees  map[string]models.BrokerFee
	order []string
}

var defaultBrokerFees = []models.BrokerFee{
	{Broker: "Webull", ContractFee: decimal.RequireFromString("0.99"), Currency: "USD"},
	{Broker: "moomoo", ContractFee: decimal.RequireFromString("0.65"), Currency: "USD"},
	{Broker: "Interactive Brokers (US)", ContractFee: decimal.RequireFromString("0.65"), Currency: "USD"},
	{Broker: "Interactive Brokers (Canada)", ContractFee: decimal.RequireFromString("1.25"), Currency: "CAD"},
	{Broker: "Wealthsimple Core", ContractFee: decimal.RequireFromString("2.00"), Currency: "CAD"},
	{Broker: "Wealthsimple Premium", ContractFee: decimal.RequireFromString("0.75"), Currency: "CAD"},
	{Broker: "Questrade", ContractFee: decimal.RequireFromString("0.99"), Currency: "USD"},
}

// DefaultBroker is used when a trade is recorded without a broker.
const DefaultBroker = "Webull"

func NewFeeSchedule(fees []models.BrokerFee) *FeeSchedule {
	s := &FeeSchedule{fees: make(map[string]models.BrokerFee, len(fees))}
	for _, f := range fees {
		if _, dup := s.fees[f.Broker]; !dup {
			s.order = append(s.order, f.Broker)
		}
		s.fees[f.Broker] = f
	}
	return s
}

func DefaultFeeSchedule() *FeeSchedule {
	return NewFeeSchedule(defaultBrokerFees)
}

// LoadFeeSchedule reads a JSON array of broker fees. An empty path yields the defaults.
func LoadFeeSchedule(path string) (*FeeSchedule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultFeeSchedule(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee schedule file %s: %w", path, err)
	}
	var fees []models.BrokerFee
	if err := json.Unmarshal(data, &fees); err != nil {
		return nil, fmt.Errorf("failed to parse fee schedule file %s: %w", path, err)
	}
	for i, f := range fees {
		if strings.TrimSpace(f.Broker) == "" {
			return nil, fmt.Errorf("fee schedule entry %d has no broker name", i)
		}
		if f.ContractFee.IsNegative() {
			return nil, fmt.Errorf("fee schedule entry %q has a negative contract fee", f.Broker)
		}
	}
	return NewFeeSchedule(fees), nil
}

// Lookup returns the fee entry for broker, if known.
func (s *FeeSchedule) Lookup(broker string) (models.BrokerFee, bool) {
	if s == nil {
		return models.BrokerFee{}, false
	}
	f, ok := s.fees[broker]
	return f, ok
}

// PerContract returns the commission for one contract at broker.
func (s *FeeSchedule) PerContract(broker string) decimal.Decimal {
	f, ok := s.Lookup(broker)
	if !ok {
		return decimal.Zero
	}
	return f.ContractFee
}

// FeeFor returns the commission for trading the given number of contracts at broker.
func (s *FeeSchedule) FeeFor(broker string, contracts int) decimal.Decimal {
	return s.PerContract(broker).Mul(decimal.NewFromInt(int64(contracts)))
}

// Brokers lists the known brokers in declaration order.
func (s *FeeSchedule) Brokers() []models.BrokerFee {
	if s == nil {
		return []models.BrokerFee{}
	}
	out := make([]models.BrokerFee, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fees[name])
	}
	return out
}

// BrokerNames lists the known broker names in declaration order.
func (s *FeeSchedule) BrokerNames() []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s.order...)
}
