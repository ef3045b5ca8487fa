package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "app error", err: domain.ErrBucketNotFound, wantStatus: 404, wantCode: "BUCKET_NOT_FOUND"},
		{name: "wrapped app error", err: domain.ErrBadRequest.WithError(errors.New("missing id")), wantStatus: 400, wantCode: "BAD_REQUEST"},
		{name: "fiber error", err: fiber.ErrMethodNotAllowed, wantStatus: 405, wantCode: "HTTP_ERROR"},
		{name: "unknown error", err: errors.New("connection reset"), wantStatus: 500, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(slog.New(slog.NewTextHandler(io.Discard, nil)))
			app.Use(RequestIDs())
			app.Get("/test", func(*fiber.Ctx) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set(RequestIDHeader, "req_fixed")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, resp.Header.Get(RequestIDHeader), body.RequestID)
			assert.NotEqual(t, "req_fixed", body.RequestID)
		})
	}
}

func TestRequestIDs_Generated(t *testing.T) {
	app := fiber.New()
	app.Use(RequestIDs())
	app.Get("/test", func(c *fiber.Ctx) error { return c.SendString(RequestID(c)) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Regexp(t, `^req_[A-Za-z0-9]{16}$`, string(body))
	assert.Equal(t, string(body), resp.Header.Get(RequestIDHeader))
}

func TestRequestIDs_CallerHeaderIsUpstreamOnly(t *testing.T) {
	app := fiber.New()
	app.Use(RequestIDs())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": RequestID(c), "upstream": UpstreamRequestID(c)})
	})

	upstream := strings.Repeat("a", 65)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, upstream)
	resp, err := app.Test(req)
	require.NoError(t, err)

	var got struct {
		ID       string `json:"id"`
		Upstream string `json:"upstream"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Regexp(t, `^req_[A-Za-z0-9]{16}$`, got.ID)
	assert.Equal(t, upstream, got.Upstream)
	assert.Equal(t, got.ID, resp.Header.Get(RequestIDHeader))
}

func TestRecover(t *testing.T) {
	app := fiber.New()
	app.Use(Recover(slog.New(slog.NewTextHandler(io.Discard, nil))))
	app.Get("/test", func(*fiber.Ctx) error { panic("boom") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type httpObservation struct {
	route  string
	method string
	status int
}

type recordingHTTP struct {
	mu  sync.Mutex
	obs []httpObservation
}

func (r *recordingHTTP) ObserveHTTP(route, method string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, httpObservation{route, method, status})
}

func TestMetrics(t *testing.T) {
	rec := &recordingHTTP{}
	app := newTestApp(slog.New(slog.NewTextHandler(io.Discard, nil)))
	app.Use(Metrics(rec))
	app.Post("/v1/webhooks/:source", func(c *fiber.Ctx) error {
		if c.Params("source") == "bad" {
			return domain.ErrInvalidSignature
		}
		return c.SendStatus(http.StatusOK)
	})

	for _, source := range []string{"stripe", "bad"} {
		_, err := app.Test(httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+source, nil))
		require.NoError(t, err)
	}

	assert.Equal(t, []httpObservation{
		{"/v1/webhooks/:source", "POST", 200},
		{"/v1/webhooks/:source", "POST", 401},
	}, rec.obs)
}
