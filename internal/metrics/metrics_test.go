package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordReferralBonus(t *testing.T) {
	before := testutil.ToFloat64(referralBonuses.WithLabelValues("applied"))
	RecordReferralBonus("applied")
	RecordReferralBonus("applied")
	if got := testutil.ToFloat64(referralBonuses.WithLabelValues("applied")); got != before+2 {
		t.Fatalf("applied=%v want %v", got, before+2)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	e := echo.New()
	e.Use(Middleware)
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/metrics", echo.WrapHandler(Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ping status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `remu_http_requests_total{method="GET",path="/ping",status="200"}`) {
		t.Fatalf("metrics output missing ping counter:\n%s", body)
	}
}
