package handlers

import (
	"net/http"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *GatewayTestSuite) seedMonth() {
	seed := []struct {
		amount float64
		tag    string
		date   string
	}{
		{30, "Food", "2026-03-02"},
		{10, "Food", "2026-03-20T19:45"},
		{60, "Transport", "2026-03-31T23:59:59Z"},
		{100, "Food", "2026-02-28"},
		{5, "Food", "2026-04-01"},
	}
	for _, s := range seed {
		rec, _ := suite.do(http.MethodPost, "/api/expenses", map[string]any{"amount": s.amount, "tag": s.tag, "date": s.date}, &alice)
		require.Equal(suite.T(), http.StatusCreated, rec.Code)
	}
}

func (suite *GatewayTestSuite) TestStatistics() {
	suite.seedMonth()

	rec, body := suite.do(http.MethodGet, "/api/expenses/stats?year=2026&month=3", nil, &alice)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())

	data := body["data"].(map[string]any)
	assert.Equal(suite.T(), 2026.0, data["year"])
	assert.Equal(suite.T(), 3.0, data["month"])
	assert.Equal(suite.T(), "March", data["monthName"])
	assert.Equal(suite.T(), 100.0, data["total"])
	assert.Equal(suite.T(), 3.0, data["count"])
	assert.Equal(suite.T(), 2.0, data["prevMonth"])
	assert.Equal(suite.T(), 4.0, data["nextMonth"])

	tags := data["tags"].([]any)
	require.Len(suite.T(), tags, 2)
	assert.Equal(suite.T(), map[string]any{"tag": "Transport", "total": 60.0, "count": 1.0, "percentage": 60.0}, tags[0])
	assert.Equal(suite.T(), map[string]any{"tag": "Food", "total": 40.0, "count": 2.0, "percentage": 40.0}, tags[1])
}

func (suite *GatewayTestSuite) TestStatisticsDefaultsToCurrentMonth() {
	suite.seedMonth()
	suite.handlers.now = func() time.Time { return time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC) }

	rec, body := suite.do(http.MethodGet, "/api/expenses/stats", nil, &alice)
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(suite.T(), 2.0, data["month"])
	assert.Equal(suite.T(), 100.0, data["total"])
	assert.Equal(suite.T(), true, data["isCurrentMonth"])
	assert.Equal(suite.T(), 1.0, data["prevMonth"])
}

func (suite *GatewayTestSuite) TestStatisticsScopedToCaller() {
	suite.seedMonth()

	rec, body := suite.do(http.MethodGet, "/api/expenses/stats?year=2026&month=3", nil, &bob)
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(suite.T(), 0.0, data["total"])
	assert.Empty(suite.T(), data["tags"])
}

func (suite *GatewayTestSuite) TestStatisticsValidation() {
	for _, query := range []string{"?month=13", "?month=0", "?year=abc", "?year=2026&month=x"} {
		rec, body := suite.do(http.MethodGet, "/api/expenses/stats"+query, nil, &alice)
		assert.Equal(suite.T(), http.StatusBadRequest, rec.Code, query)
		assert.Equal(suite.T(), "ValidationError", body["error"], query)
	}
}
