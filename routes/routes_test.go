package routes

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"crypto_indicators_backend/config"
	"crypto_indicators_backend/models"
)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, models.MigrateIndicatorModels(db))
	require.NoError(t, models.MigrateTicketModels(db))
	require.NoError(t, models.MigrateAdminModels(db))

	admin := &models.AdminUser{Username: "admin", Email: "admin@localhost", IsActive: true}
	require.NoError(t, admin.SetPassword("sekret"))
	require.NoError(t, db.Create(admin).Error)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{
		JWTSecret:   "test-secret",
		MMSCacheTTL: time.Minute,
	}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	router := gin.New()
	SetupRoutes(router, db, client, cfg, logger)

	return &testServer{router: router, db: db, redis: mr}
}

func (ts *testServer) do(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "admin",
		"password": "sekret",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message": "pong"}`, w.Body.String())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "admin",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTicketMutationsRequireToken(t *testing.T) {
	ts := newTestServer(t)

	payload := gin.H{"name": "Maria Silva", "cpf": "12345678901"}

	w := ts.do(t, http.MethodPost, "/api/v1/tickets", "", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tickets", "not-a-token", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTicketLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(t, http.MethodPost, "/api/v1/tickets", token, gin.H{
		"name": "Maria Silva", "cpf": "12345678901", "promoter": "Carlos",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data models.Ticket `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "MARIA SILVA", created.Data.Name)
	id := created.Data.ID

	// Duplicate CPF is a conflict.
	w = ts.do(t, http.MethodPost, "/api/v1/tickets", token, gin.H{
		"name": "Outro Nome", "cpf": "12345678901",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Reads are open.
	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tickets/%d", id), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/tickets", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Validation happens exactly once.
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tickets/%d/validate", id), token, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tickets/%d/validate", id), token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/tickets/%d", id), token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tickets/%d", id), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTicketValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(t, http.MethodPost, "/api/v1/tickets", token, gin.H{
		"name": "Maria 2", "cpf": "12345678901",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tickets", token, gin.H{
		"name": "Maria Silva", "cpf": "123",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func seedVariations(t *testing.T, db *gorm.DB, pair string, timestamps ...int64) {
	t.Helper()
	for i, ts := range timestamps {
		require.NoError(t, db.Create(&models.SimpleMovingAverage{
			Pair:      pair,
			Precision: "1d",
			Timestamp: ts,
			MMS20:     decimal.NewFromInt(int64(i + 1)),
			MMS50:     decimal.NewFromInt(int64(i + 51)),
			MMS200:    decimal.NewFromInt(int64(i + 201)),
		}).Error)
	}
}

type mmsResponse struct {
	Data []struct {
		Timestamp int64   `json:"timestamp"`
		MMS       float64 `json:"mms"`
	} `json:"data"`
}

func TestGetSimpleMovingAverage(t *testing.T) {
	ts := newTestServer(t)

	now := time.Now()
	day := int64(86400)
	base := now.AddDate(0, 0, -10).Unix()
	seedVariations(t, ts.db, "BRLBTC", base, base+day, base+2*day)

	url := fmt.Sprintf("/api/v1/indicators/BRLBTC/mms?range=20&from=%d&to=%d", base, base+2*day)
	w := ts.do(t, http.MethodGet, url, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp mmsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3)
	assert.Equal(t, base, resp.Data[0].Timestamp)
	assert.Equal(t, float64(1), resp.Data[0].MMS)
	assert.Equal(t, float64(3), resp.Data[2].MMS)
}

func TestGetSimpleMovingAverageRange50(t *testing.T) {
	ts := newTestServer(t)

	base := time.Now().AddDate(0, 0, -5).Unix()
	seedVariations(t, ts.db, "BRLBTC", base)

	url := fmt.Sprintf("/api/v1/indicators/BRLBTC/mms?range=50&from=%d&to=%d", base, base)
	w := ts.do(t, http.MethodGet, url, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp mmsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(51), resp.Data[0].MMS)
}

func TestGetSimpleMovingAverageServesFromCache(t *testing.T) {
	ts := newTestServer(t)

	base := time.Now().AddDate(0, 0, -5).Unix()
	seedVariations(t, ts.db, "BRLBTC", base)

	url := fmt.Sprintf("/api/v1/indicators/BRLBTC/mms?range=20&from=%d&to=%d", base, base)
	first := ts.do(t, http.MethodGet, url, "", nil)
	require.Equal(t, http.StatusOK, first.Code)

	// With the rows gone, only the cache can produce the same body.
	require.NoError(t, ts.db.Where("1 = 1").Delete(&models.SimpleMovingAverage{}).Error)

	second := ts.do(t, http.MethodGet, url, "", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	var resp mmsResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
}

func TestGetSimpleMovingAverageRejectsBadParams(t *testing.T) {
	ts := newTestServer(t)
	recent := time.Now().AddDate(0, 0, -5).Unix()

	cases := []struct {
		name string
		url  string
	}{
		{"invalid range", fmt.Sprintf("/api/v1/indicators/BRLBTC/mms?range=30&from=%d", recent)},
		{"missing range", fmt.Sprintf("/api/v1/indicators/BRLBTC/mms?from=%d", recent)},
		{"missing from", "/api/v1/indicators/BRLBTC/mms?range=20"},
		{"from too old", fmt.Sprintf("/api/v1/indicators/BRLBTC/mms?range=20&from=%d",
			time.Now().AddDate(0, 0, -400).Unix())},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, tc.url, "", nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}
