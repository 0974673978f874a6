package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/mesh-timeseries-etl/internal/adapter/http"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/mesh"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStatus struct {
	err    error
	status []pipeline.ClientStatus
}

func (m *mockStatus) CheckReadiness(_ context.Context) error { return m.err }
func (m *mockStatus) Status() []pipeline.ClientStatus { return m.status }

type mockLedger struct {
	keys map[string][]domain.DateKey
	err  error
}

func (m *mockLedger) CommittedDates(_ context.Context, client string) ([]domain.DateKey, error) {
	return m.keys[client], m.err
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockStatus{err: readyErr}, &mockLedger{}, slog.New(slog.DiscardHandler))
}

func serve(srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("no sync pass has completed yet")), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusEndpoint(t *testing.T) {
	last := time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)
	status := &mockStatus{status: []pipeline.ClientStatus{
		{Client: "ACME", LastRun: last, Committed: 2, Rows: 96},
		{Client: "BPTT", LastRun: last, Error: "ledger and timeseries disagree"},
	}}
	srv := httpadapter.NewServer(":0", status, &mockLedger{}, slog.New(slog.DiscardHandler))

	rec := serve(srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Clients []pipeline.ClientStatus `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, status.status, body.Clients)
}

func TestClientDatesEndpoint(t *testing.T) {
	ledger := &mockLedger{keys: map[string][]domain.DateKey{"ACME": {"2021010100", "2021010112"}}}
	srv := httpadapter.NewServer(":0", &mockStatus{}, ledger, slog.New(slog.DiscardHandler))

	rec := serve(srv, "/clients/ACME/dates")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"client":"ACME","dates":["2021010100","2021010112"]}`, rec.Body.String())

	rec = serve(srv, "/clients/NOBODY/dates")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"client":"NOBODY","dates":[]}`, rec.Body.String())

	ledger.err = errors.New("database is locked")
	rec = serve(srv, "/clients/ACME/dates")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type mockQuerier struct {
	err     error
	args    []any
	samples []domain.Sample
	polar   []domain.PolarSample
}

func (m *mockQuerier) NodeData(_ context.Context, client string, key domain.DateKey, lon, lat, depth float64, category string) (domain.Frame, error) {
	m.args = []any{client, key, lon, lat, depth, category}
	if m.err != nil {
		return domain.Frame{}, m.err
	}
	if m.samples != nil {
		return domain.Frame{Category: category, Element: 7, Samples: m.samples}, nil
	}
	t0 := key.Time()
	return domain.Frame{Category: category, Element: 7, Samples: []domain.Sample{{Time: t0, Value: 31.5}}}, nil
}

func (m *mockQuerier) Polar(_ context.Context, client string, key domain.DateKey, lon, lat, depth float64) (domain.PolarFrame, error) {
	m.args = []any{client, key, lon, lat, depth}
	if m.err != nil {
		return domain.PolarFrame{}, m.err
	}
	if m.polar != nil {
		return domain.PolarFrame{Element: 3, Samples: m.polar}, nil
	}
	return domain.PolarFrame{Element: 3, Samples: []domain.PolarSample{{Time: key.Time(), R: 0.5, Theta: 90}}}, nil
}

func newQueryServer(q *mockQuerier) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockStatus{}, &mockLedger{}, slog.New(slog.DiscardHandler), httpadapter.WithNodeQuery(q))
}

func TestNodeEndpoint(t *testing.T) {
	q := &mockQuerier{}
	rec := serve(newQueryServer(q), "/clients/ACME/dates/2021010100/node?lon=103.8&lat=1.25&category=Salinity")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"ACME", domain.DateKey("2021010100"), 103.8, 1.25, 1.0, "Salinity"}, q.args)
	assert.JSONEq(t, `{
		"client": "ACME", "date": "2021010100", "category": "Salinity", "element": 7,
		"samples": [{"time": "2021-01-01T00:00:00Z", "value": 31.5}]
	}`, rec.Body.String())
}

func TestPolarEndpoint(t *testing.T) {
	q := &mockQuerier{}
	rec := serve(newQueryServer(q), "/clients/ACME/dates/2021010100/polar?lon=1&lat=2&depth=0.5")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"ACME", domain.DateKey("2021010100"), 1.0, 2.0, 0.5}, q.args)
	assert.JSONEq(t, `{
		"client": "ACME", "date": "2021010100", "element": 3,
		"samples": [{"time": "2021-01-01T00:00:00Z", "r": 0.5, "theta": 90}]
	}`, rec.Body.String())
}

func TestNodeEndpoint_MissingValuesAreNull(t *testing.T) {
	t0 := domain.MustDateKey("2021010100").Time()
	q := &mockQuerier{samples: []domain.Sample{
		{Time: t0, Value: 1},
		{Time: t0.Add(time.Hour), Value: math.NaN()},
	}}
	rec := serve(newQueryServer(q), "/clients/ACME/dates/2021010100/node?lon=1&lat=1&category=Salinity")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"client": "ACME", "date": "2021010100", "category": "Salinity", "element": 7,
		"samples": [
			{"time": "2021-01-01T00:00:00Z", "value": 1},
			{"time": "2021-01-01T01:00:00Z", "value": null}
		]
	}`, rec.Body.String())
}

func TestPolarEndpoint_MissingValuesAreNull(t *testing.T) {
	t0 := domain.MustDateKey("2021010100").Time()
	q := &mockQuerier{polar: []domain.PolarSample{{Time: t0, R: math.NaN(), Theta: math.NaN()}}}
	rec := serve(newQueryServer(q), "/clients/ACME/dates/2021010100/polar?lon=1&lat=1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"client": "ACME", "date": "2021010100", "element": 3,
		"samples": [{"time": "2021-01-01T00:00:00Z", "r": null, "theta": null}]
	}`, rec.Body.String())
}

func TestNodeEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"bad date", "/clients/ACME/dates/2021-01-01/node?lon=1&lat=1&category=Salinity", nil, http.StatusBadRequest},
		{"bad lon", "/clients/ACME/dates/2021010100/node?lon=east&lat=1&category=Salinity", nil, http.StatusBadRequest},
		{"no category", "/clients/ACME/dates/2021010100/node?lon=1&lat=1", nil, http.StatusBadRequest},
		{"no file", "/clients/ACME/dates/2021010100/node?lon=1&lat=1&category=Salinity", fs.ErrNotExist, http.StatusNotFound},
		{"unknown category", "/clients/ACME/dates/2021010100/node?lon=1&lat=1&category=X", &mesh.CategoryError{Label: "X"}, http.StatusUnprocessableEntity},
		{"outside mesh", "/clients/ACME/dates/2021010100/polar?lon=1&lat=1", mesh.ErrOutsideMesh, http.StatusUnprocessableEntity},
		{"decode failure", "/clients/ACME/dates/2021010100/polar?lon=1&lat=1", errors.New("corrupt xz stream"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newQueryServer(&mockQuerier{err: tt.err}), tt.path)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestNodeRoutesAbsentWithoutQuerier(t *testing.T) {
	rec := serve(newTestServer(nil), "/clients/ACME/dates/2021010100/node?lon=1&lat=1&category=Salinity")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
