package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	"github.com/hackgods/clinic-appointment-scheduling/internal/slotgrid"
)

const friday = "2025-01-10"

func newTestServer(t *testing.T, capacity int, mutate ...func(*RouterConfig)) *httptest.Server {
	t.Helper()

	grid, err := slotgrid.NewGrid(slotgrid.DefaultPolicy())
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2025, 1, 9, 8, 0, 0, 0, time.UTC) }
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	svc := appointment.NewService(
		appointment.NewMemoryRepository(),
		grid,
		config.Config{MaxSlotsPerTime: capacity, BookingHorizonDays: 30},
		appointment.WithClock(now, time.UTC),
		appointment.WithMetrics(m),
	)

	cfg := RouterConfig{
		Service:  svc,
		Logger:   zerolog.Nop(),
		Metrics:  m,
		Gatherer: reg,
		Env:      "test",
		Version:  "test",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	srv := httptest.NewServer(NewRouter(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func bookBody(patient, label string) map[string]string {
	return map[string]string{
		"patientId":      patient,
		"patientEmail":   patient + "@example.com",
		"chiefComplaint": "toothache",
		"date":           friday,
		"time":           label,
	}
}

func TestBookingFlow(t *testing.T) {
	srv := newTestServer(t, 1)

	resp, body := do(t, srv, http.MethodPost, "/appointments", bookBody("P-1", "10:00 AM"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bookingID, _ := body["bookingId"].(string)
	require.NotEmpty(t, bookingID)

	resp, body = do(t, srv, http.MethodPost, "/appointments", bookBody("P-2", "10:00 AM"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "slot_unavailable", body["error"])

	resp, body = do(t, srv, http.MethodGet, "/availability?date="+friday, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := body["slots"].([]any)
	for _, raw := range slots {
		s := raw.(map[string]any)
		if s["label"] == "10:00 AM" {
			assert.Equal(t, 1.0, s["bookedCount"])
			assert.Equal(t, false, s["isAvailable"])
		}
	}

	resp, body = do(t, srv, http.MethodPatch, "/appointments/"+bookingID+"/confirm", map[string]string{"doctorId": "D-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "D-1", body["approvedDoctorId"])

	resp, body = do(t, srv, http.MethodPatch, "/appointments/"+bookingID+"/confirm", map[string]string{"doctorId": "D-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_status_transition", body["error"])

	resp, body = do(t, srv, http.MethodGet, "/appointments/all?doctorId=D-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["appointments"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, true, list[0].(map[string]any)["confirmedByMe"])

	resp, body = do(t, srv, http.MethodPut, "/appointments/"+bookingID+"/cancel", map[string]string{"requesterId": "P-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["changed"])

	resp, body = do(t, srv, http.MethodPut, "/appointments/"+bookingID+"/cancel", map[string]string{"requesterId": "P-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["changed"])

	resp, _ = do(t, srv, http.MethodPost, "/appointments", bookBody("P-3", "10:00 AM"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestReschedule(t *testing.T) {
	srv := newTestServer(t, 5)

	_, body := do(t, srv, http.MethodPost, "/appointments", bookBody("P-1", "10:00 AM"))
	bookingID := body["bookingId"].(string)

	resp, body := do(t, srv, http.MethodPatch, "/appointments/"+bookingID+"/reschedule", map[string]string{
		"newDate": friday, "newTime": "2:00 PM", "doctorId": "D-4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newID := body["bookingId"].(string)
	assert.Regexp(t, `^RS`, newID)
	assert.Equal(t, "rescheduled", body["originalAppointment"].(map[string]any)["status"])
	assert.Equal(t, "confirmed", body["newAppointment"].(map[string]any)["status"])

	resp, body = do(t, srv, http.MethodGet, "/appointments/"+newID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bookingID, body["originalBookingId"])

	// the retired record cannot be cancelled
	resp, body = do(t, srv, http.MethodPut, "/appointments/"+bookingID+"/cancel", map[string]string{"requesterId": "P-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "appointment_not_cancellable", body["error"])
}

func TestValidationAndErrors(t *testing.T) {
	srv := newTestServer(t, 5)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name: "missing fields", method: http.MethodPost, path: "/appointments",
			body:   map[string]string{"patientId": "P-1"},
			status: http.StatusBadRequest, code: "validation_failed",
		},
		{
			name: "bad email", method: http.MethodPost, path: "/appointments",
			body: map[string]string{
				"patientId": "P-1", "patientEmail": "nope", "chiefComplaint": "x", "date": friday, "time": "10:00 AM",
			},
			status: http.StatusBadRequest, code: "validation_failed",
		},
		{
			name: "slot inside break", method: http.MethodPost, path: "/appointments",
			body:   bookBody("P-1", "1:00 PM"),
			status: http.StatusBadRequest, code: "invalid_slot",
		},
		{
			name: "unknown field", method: http.MethodPost, path: "/appointments",
			body:   map[string]string{"slot_id": "x"},
			status: http.StatusBadRequest, code: "invalid_request_body",
		},
		{
			name: "unknown booking", method: http.MethodPatch, path: "/appointments/BK0/confirm",
			body:   map[string]string{"doctorId": "D-1"},
			status: http.StatusNotFound, code: "appointment_not_found",
		},
		{
			name: "bad role", method: http.MethodPut, path: "/appointments/BK0/cancel",
			body:   map[string]string{"requesterId": "P-1", "role": "admin"},
			status: http.StatusBadRequest, code: "validation_failed",
		},
		{
			name: "availability without date", method: http.MethodGet, path: "/availability",
			status: http.StatusBadRequest, code: "missing_date",
		},
		{
			name: "availability bad date", method: http.MethodGet, path: "/availability?date=2025-13-40",
			status: http.StatusBadRequest, code: "invalid_slot",
		},
		{
			name: "history without patient", method: http.MethodGet, path: "/appointments",
			status: http.StatusBadRequest, code: "missing_patient_id",
		},
		{
			name: "bad limit", method: http.MethodGet, path: "/appointments/pending?limit=0",
			status: http.StatusBadRequest, code: "invalid_limit",
		},
		{
			name: "bad days", method: http.MethodGet, path: "/dates?days=365",
			status: http.StatusBadRequest, code: "invalid_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestCancelByAnotherPatient(t *testing.T) {
	srv := newTestServer(t, 5)

	_, body := do(t, srv, http.MethodPost, "/appointments", bookBody("P-1", "10:00 AM"))
	bookingID := body["bookingId"].(string)

	resp, body := do(t, srv, http.MethodPut, "/appointments/"+bookingID+"/cancel", map[string]string{"requesterId": "P-2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_owner", body["error"])
}

func TestReadEndpoints(t *testing.T) {
	srv := newTestServer(t, 5)

	resp, body := do(t, srv, http.MethodGet, "/slots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := body["slots"].([]any)
	assert.Len(t, slots, 12)
	assert.Equal(t, "9:00 AM", slots[0].(map[string]any)["label"])

	resp, body = do(t, srv, http.MethodGet, "/dates?days=3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dates := body["dates"].([]any)
	require.Len(t, dates, 3)
	assert.Equal(t, "2025-01-13", dates[2].(map[string]any)["date"])

	do(t, srv, http.MethodPost, "/appointments", bookBody("P-1", "10:00 AM"))
	do(t, srv, http.MethodPost, "/appointments", bookBody("P-1", "10:30 AM"))

	resp, body = do(t, srv, http.MethodGet, "/appointments?patientId=P-1&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["appointments"].([]any), 1)
	assert.Equal(t, 1.0, body["limit"])

	resp, body = do(t, srv, http.MethodGet, "/appointments/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["appointments"].([]any), 2)
}

func TestRateLimitOnWrites(t *testing.T) {
	srv := newTestServer(t, 5, func(c *RouterConfig) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})

	resp, _ := do(t, srv, http.MethodPost, "/appointments", bookBody("P-1", "10:00 AM"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, srv, http.MethodPost, "/appointments", bookBody("P-2", "10:00 AM"))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", body["error"])

	// reads are not throttled
	resp, _ = do(t, srv, http.MethodGet, "/availability?date="+friday, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		deps   []Dependency
		status int
		want   string
	}{
		{name: "all up", deps: []Dependency{{Name: "postgres", Check: ok, Critical: true}, {Name: "redis", Check: ok}}, status: http.StatusOK, want: "ok"},
		{name: "redis down", deps: []Dependency{{Name: "postgres", Check: ok, Critical: true}, {Name: "redis", Check: down}}, status: http.StatusOK, want: "degraded"},
		{name: "postgres down", deps: []Dependency{{Name: "postgres", Check: down, Critical: true}, {Name: "redis", Check: ok}}, status: http.StatusServiceUnavailable, want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, 5, func(c *RouterConfig) { c.Dependencies = tt.deps })

			resp, body := do(t, srv, http.MethodGet, "/health/ready", nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.want, body["status"])

			resp, _ = do(t, srv, http.MethodGet, "/health/live", nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}

func TestMetricsAndRequestID(t *testing.T) {
	srv := newTestServer(t, 5)

	do(t, srv, http.MethodGet, "/slots", nil)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `clinic_http_requests_total{method="GET",route="/slots",status="2xx"} 1`)
}
