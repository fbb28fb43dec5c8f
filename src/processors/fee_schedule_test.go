package processors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFeeSchedule(t *testing.T) {
	fees := DefaultFeeSchedule()

	assert.Equal(t, "0.99", fees.PerContract("Webull").StringFixed(2))
	assert.Equal(t, "1.25", fees.PerContract("Interactive Brokers (Canada)").StringFixed(2))
	assert.Equal(t, "1.95", fees.FeeFor("moomoo", 3).StringFixed(2))
	assert.True(t, fees.FeeFor("webull", 3).IsZero(), "lookups are case-sensitive")
	assert.Len(t, fees.Brokers(), 7)
	assert.Equal(t, DefaultBroker, fees.BrokerNames()[0])

	f, ok := fees.Lookup("Wealthsimple Core")
	require.True(t, ok)
	assert.Equal(t, "CAD", f.Currency)
}

func TestNilFeeScheduleChargesNothing(t *testing.T) {
	var fees *FeeSchedule
	assert.True(t, fees.FeeFor("Webull", 10).IsZero())
	assert.Empty(t, fees.Brokers())
	assert.Empty(t, fees.BrokerNames())
}

func TestLoadFeeSchedule(t *testing.T) {
	dir := t.TempDir()

	fees, err := LoadFeeSchedule("")
	require.NoError(t, err)
	assert.Len(t, fees.Brokers(), 7)

	good := filepath.Join(dir, "fees.json")
	require.NoError(t, os.WriteFile(good, []byte(`[
		{"broker": "Tastytrade", "contractFee": "1.00", "currency": "USD"},
		{"broker": "Webull", "contractFee": 0.5, "currency": "USD"}
	]`), 0o600))
	fees, err = LoadFeeSchedule(good)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tastytrade", "Webull"}, fees.BrokerNames())
	assert.Equal(t, "0.50", fees.PerContract("Webull").StringFixed(2))
	assert.True(t, fees.PerContract("moomoo").IsZero())

	negative := filepath.Join(dir, "negative.json")
	require.NoError(t, os.WriteFile(negative, []byte(`[{"broker": "Webull", "contractFee": "-1"}]`), 0o600))
	_, err = LoadFeeSchedule(negative)
	assert.Error(t, err)

	unnamed := filepath.Join(dir, "unnamed.json")
	require.NoError(t, os.WriteFile(unnamed, []byte(`[{"broker": " ", "contractFee": "1"}]`), 0o600))
	_, err = LoadFeeSchedule(unnamed)
	assert.Error(t, err)

	_, err = LoadFeeSchedule(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
