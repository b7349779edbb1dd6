package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemoteAddr = "1.2.3.4:1234"

func limitedHandler(ratePerSecond float64, burst int) (*echo.Echo, echo.HandlerFunc) {
	e := echo.New()
	mw := newRateLimiter(ratePerSecond, burst)
	return e, mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func hit(t *testing.T, e *echo.Echo, h echo.HandlerFunc, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/btc", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestRateLimiter_AllowsBurst(t *testing.T) {
	e, h := limitedHandler(10, 3)

	for range 3 {
		assert.Equal(t, http.StatusOK, hit(t, e, h, testRemoteAddr).Code)
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	e, h := limitedHandler(0.5, 1)

	assert.Equal(t, http.StatusOK, hit(t, e, h, testRemoteAddr).Code)

	rec := hit(t, e, h, testRemoteAddr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate limit exceeded", resp["error"])
}

func TestRateLimiter_PerClientBuckets(t *testing.T) {
	e, h := limitedHandler(0.01, 1)

	assert.Equal(t, http.StatusOK, hit(t, e, h, testRemoteAddr).Code)
	assert.Equal(t, http.StatusOK, hit(t, e, h, "5.6.7.8:5678").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(t, e, h, testRemoteAddr).Code)
}
