package handlers

import (
	"bytes"
	"encoding/csv"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDecimal(t *testing.T, want string, got interface{}) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "expected a decimal string, got %#v", got)
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(s)), "want %s, got %s", want, s)
}

func stats(trade map[string]interface{}) map[string]interface{} {
	return trade["stats"].(map[string]interface{})
}

func TestTradeLifecycle(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("trader@example.com")

	trade := s.createTrade(token, hoodCall(2, "1.50"))
	assert.Equal(t, "HOOD Sep 26 '25 $110 CALL", trade["option_name"])
	assert.Equal(t, "open", trade["status"])
	assert.Equal(t, "Webull", trade["broker"])

	rec := s.doJSON(http.MethodPost, tradePath(trade, "/purchases"), map[string]interface{}{
		"contracts": 1, "purchase_price": "3.00", "purchase_date": "2025-03-05",
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decodeBody(t, rec, &trade)
	assert.EqualValues(t, 3, stats(trade)["totalContracts"])
	assertDecimal(t, "2.00", stats(trade)["weightedAvgPrice"])

	rec = s.doJSON(http.MethodPost, tradePath(trade, "/sales"), map[string]interface{}{
		"contracts_sold": 3, "sell_price": "2.50", "sell_date": "2025-03-10",
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decodeBody(t, rec, &trade)
	assert.Equal(t, "closed", trade["status"])
	assertDecimal(t, "150", stats(trade)["grossPnL"])
	assertDecimal(t, "5.94", stats(trade)["totalFees"])
	assertDecimal(t, "144.06", stats(trade)["netPnL"])

	rec = s.do(http.MethodGet, tradePath(trade, "/sales/breakdown"), nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var breakdown []map[string]interface{}
	decodeBody(t, rec, &breakdown)
	assert.Len(t, breakdown, 1)

	rec = s.doJSON(http.MethodPost, tradePath(trade, "/sales"), map[string]interface{}{
		"contracts_sold": 1, "sell_price": "2.50", "sell_date": "2025-03-11",
	}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot sell more contracts than remaining")

	rec = s.do(http.MethodDelete, tradePath(trade, ""), nil, "", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, tradePath(trade, ""), nil, "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTradeEditsAndPurchaseGuards(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("trader@example.com")
	trade := s.createTrade(token, hoodCall(2, "1.50"))

	rec := s.doJSON(http.MethodPut, tradePath(trade, ""), map[string]interface{}{
		"stock_ticker": "HOOD", "expiry_date": "2025-10-17", "strike_price": "115.5", "type": "PUT", "broker": "Webull",
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated map[string]interface{}
	decodeBody(t, rec, &updated)
	assert.Equal(t, "HOOD Oct 17 '25 $115.50 PUT", updated["option_name"])

	rec = s.doJSON(http.MethodPost, tradePath(trade, "/sales"), map[string]interface{}{
		"contracts_sold": 1, "sell_price": "2.00", "sell_date": "2025-03-02",
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code)

	purchases := updated["contract_purchases"].([]interface{})
	purchaseID := purchases[0].(map[string]interface{})["id"].(string)

	rec = s.doJSON(http.MethodPut, tradePath(trade, "/purchases/"+purchaseID), map[string]interface{}{
		"contracts": 0, "purchase_price": "1.50", "purchase_date": "2025-03-01",
	}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, tradePath(trade, "/purchases/"+purchaseID), nil, "", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, tradePath(trade, "/purchases/unknown"), nil, "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTradeValidationErrors(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("trader@example.com")

	cases := map[string]func(map[string]interface{}){
		"bad type":        func(f map[string]interface{}) { f["type"] = "STRADDLE" },
		"zero contracts":  func(f map[string]interface{}) { f["contracts"] = 0 },
		"future purchase": func(f map[string]interface{}) { f["purchase_date"] = "2025-04-01" },
		"bad strike":      func(f map[string]interface{}) { f["strike_price"] = "-1" },
		"missing ticker":  func(f map[string]interface{}) { f["stock_ticker"] = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			form := hoodCall(1, "1.00")
			mutate(form)
			rec := s.doJSON(http.MethodPost, "/api/trades", form, token)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(http.MethodPost, "/api/trades", strings.NewReader("{not json"), "application/json", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradesAreScopedToOwner(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.signUp("alice@example.com")
	bob, _ := s.signUp("bob@example.com")
	trade := s.createTrade(alice, hoodCall(1, "1.00"))

	rec := s.do(http.MethodGet, tradePath(trade, ""), nil, "", bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodPost, tradePath(trade, "/sales"), map[string]interface{}{
		"contracts_sold": 1, "sell_price": "2.00", "sell_date": "2025-03-02",
	}, bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, tradePath(trade, ""), nil, "", bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTradesFiltersAndPaging(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("trader@example.com")
	s.createTrade(token, hoodCall(1, "1.00"))
	put := hoodCall(1, "1.00")
	put["type"] = "PUT"
	s.createTrade(token, put)
	tsla := hoodCall(1, "1.00")
	tsla["stock_ticker"] = "TSLA"
	s.createTrade(token, tsla)

	var page struct {
		Trades     []map[string]interface{} `json:"trades"`
		TotalCount int                      `json:"totalCount"`
		Page       int                      `json:"page"`
		PageSize   int                      `json:"pageSize"`
	}

	rec := s.do(http.MethodGet, "/api/trades?ticker=hood&type=PUT", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &page)
	require.Len(t, page.Trades, 1)
	assert.Equal(t, "PUT", page.Trades[0]["type"])

	rec = s.do(http.MethodGet, "/api/trades?page=2&pageSize=2", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &page)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.Page)
	assert.Len(t, page.Trades, 1)

	rec = s.do(http.MethodGet, "/api/trades?pageSize=1000", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &page)
	assert.Equal(t, 100, page.PageSize)

	for _, query := range []string{"status=pending", "type=straddle", "page=0", "pageSize=abc"} {
		rec = s.do(http.MethodGet, "/api/trades?"+query, nil, "", token)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestExportTradesCSV(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("trader@example.com")
	form := hoodCall(1, "3.00")
	form["broker"] = "=cmd"
	trade := s.createTrade(token, form)
	rec := s.doJSON(http.MethodPost, tradePath(trade, "/sales"), map[string]interface{}{
		"contracts_sold": 1, "sell_price": "1.00", "sell_date": "2025-03-02",
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/api/trades/export", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "trades.csv")

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, exportHeader, records[0])
	row := records[1]
	assert.Equal(t, "HOOD Sep 26 '25 $110 CALL", row[0])
	assert.Equal(t, "'=cmd", row[5])
	assert.Equal(t, "closed", row[6])
	assert.Equal(t, "-200.00", row[11])
}

func TestParseOptionNameEndpoint(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("trader@example.com")

	rec := s.do(http.MethodGet, "/api/option-names/parse?name=HOOD+Sep+26+%2725+%24110+CALL", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var parsed map[string]interface{}
	decodeBody(t, rec, &parsed)
	assert.Equal(t, "HOOD", parsed["ticker"])
	assert.Equal(t, "2025-09-26", parsed["expiry_date"])
	assert.Equal(t, "CALL", parsed["type"])

	rec = s.do(http.MethodGet, "/api/option-names/parse?name=garbage", nil, "", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/option-names/parse", nil, "", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func importRequest(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestImportTrades(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("trader@example.com")

	log := "date,action,option_name,contracts,price,broker\n" +
		"2025-03-01,BUY,HOOD Sep 26 '25 $110 CALL,2,1.50,Webull\n" +
		"2025-03-03,SELL,HOOD Sep 26 '25 $110 CALL,2,2.00,\n" +
		"2025-03-04,SELL,TSLA Dec 19 '25 $250 PUT,1,2.00,\n" +
		"2025-03-05,HOLD,HOOD Sep 26 '25 $110 CALL,1,1.00,\n"
	body, contentType := importRequest(t, "trades.csv", log)

	rec := s.do(http.MethodPost, "/api/trades/import", body, contentType, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		RowsRead       int `json:"rowsRead"`
		TradesCreated  int `json:"tradesCreated"`
		PurchasesAdded int `json:"purchasesAdded"`
		SalesAdded     int `json:"salesAdded"`
		Rejected       []struct {
			Row    int    `json:"row"`
			Reason string `json:"reason"`
		} `json:"rejected"`
	}
	decodeBody(t, rec, &result)
	assert.Equal(t, 4, result.RowsRead)
	assert.Equal(t, 1, result.TradesCreated)
	assert.Equal(t, 1, result.SalesAdded)
	require.Len(t, result.Rejected, 2)
	assert.Equal(t, 4, result.Rejected[0].Row)
	assert.Equal(t, 5, result.Rejected[1].Row)

	rec = s.do(http.MethodGet, "/api/trades?status=closed", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalCount":1`)
}

func TestImportTradesRejectsBadFiles(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("trader@example.com")

	body, contentType := importRequest(t, "trades.csv", "foo,bar\n1,2\n")
	rec := s.do(http.MethodPost, "/api/trades/import", body, contentType, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing required columns")

	body, contentType = importRequest(t, "trades.exe", "date,action\n")
	rec = s.do(http.MethodPost, "/api/trades/import", body, contentType, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = importRequest(t, "trades.csv", strings.Repeat("a", 80*1024))
	rec = s.do(http.MethodPost, "/api/trades/import", body, contentType, token)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = s.do(http.MethodPost, "/api/trades/import", strings.NewReader("plain"), "text/plain", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
