package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/edgepipe/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestHTTPInstrumentation(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := gin.New()
	r.Use(HTTPInstrumentation("mw-test", logger))
	r.GET("/items/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/7", nil))
	if rr.Code != http.StatusOK || rr.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("unexpected response: code=%d id=%q", rr.Code, rr.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr.Header().Get(RequestIDHeader) != "fixed-id" {
		t.Fatalf("request id not echoed: %q", rr.Header().Get(RequestIDHeader))
	}

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "/items/:id", "200")); got != 1 {
		t.Fatalf("unexpected matched count: %v", got)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "unmatched", "404")); got != 1 {
		t.Fatalf("unexpected unmatched count: %v", got)
	}
	if !strings.Contains(buf.String(), `"request_id":"fixed-id"`) {
		t.Fatalf("access log missing request id: %s", buf.String())
	}
}
