package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/internal/daemon"
	"github.com/ajitpratap0/integrationd/internal/integration"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeServer records calls and resolves only the connector "orders"
type fakeServer struct {
	calls      []string
	props      map[string]interface{}
	replace    bool
	address    string
	connection core.Connection
}

func (f *fakeServer) ServerName() string { return "east" }

func (f *fakeServer) Status() daemon.Status {
	return daemon.Status{ServerName: "east", Running: true, Connectors: 1}
}

func (f *fakeServer) Summary() daemon.Summary { return daemon.Summary{ServerName: "east"} }

func (f *fakeServer) ServiceSummary(name string) (daemon.ServiceSummary, error) {
	if name != "catalogue" {
		return daemon.ServiceSummary{}, errors.New(errors.ErrorTypeValidation, "unknown service")
	}
	return daemon.ServiceSummary{Name: name}, nil
}

func (f *fakeServer) GroupSummary(name string) (daemon.GroupSummary, error) {
	return daemon.GroupSummary{Name: name}, nil
}

func (f *fakeServer) AuditEntries() []audit.Entry { return nil }

func (f *fakeServer) RefreshConnector(_ context.Context, service, connector string) error {
	f.calls = append(f.calls, "refresh:"+service+":"+connector)
	return f.resolve(connector)
}

func (f *fakeServer) RestartConnector(_ context.Context, service, connector string) error {
	f.calls = append(f.calls, "restart:"+service+":"+connector)
	return f.resolve(connector)
}

func (f *fakeServer) resolve(ref string) error {
	if ref != "" && ref != "orders" {
		return errors.New(errors.ErrorTypeValidation, "unknown connector").WithDetail("connector", ref)
	}
	return nil
}

func (f *fakeServer) ConnectorReport(ref string) (integration.ConnectorReport, error) {
	if err := f.resolve(ref); err != nil {
		return integration.ConnectorReport{}, err
	}
	return integration.ConnectorReport{ConnectorID: "c-1", ConnectorName: ref, Status: integration.StatusWaiting}, nil
}

func (f *fakeServer) Reports(ref string) ([]integration.IntegrationReport, error) {
	return []integration.IntegrationReport{{ConnectorID: "c-1", Created: []string{"t1"}}}, f.resolve(ref)
}

func (f *fakeServer) UpdateConfigurationProperties(_ context.Context, ref string, props map[string]interface{}, replace bool) error {
	f.props, f.replace = props, replace
	return f.resolve(ref)
}

func (f *fakeServer) UpdateEndpointNetworkAddress(_ context.Context, ref, address string) error {
	f.address = address
	return f.resolve(ref)
}

func (f *fakeServer) UpdateConnectorConnection(_ context.Context, ref string, conn core.Connection) error {
	f.connection = conn
	return f.resolve(ref)
}

func (f *fakeServer) RefreshGroupConfig(_ context.Context, group string) (integration.ReconcileResult, error) {
	return integration.ReconcileResult{Added: 2}, nil
}

func (f *fakeServer) RefreshConnectorConfig(_ context.Context, group, id string) (integration.ReconcileResult, error) {
	if id == "gone" {
		return integration.ReconcileResult{}, errors.New(errors.ErrorTypeUnavailable, "store is down")
	}
	return integration.ReconcileResult{Updated: 1}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *fakeServer) {
	t.Helper()
	servers := NewServerRegistry()
	fake := &fakeServer{}
	require.NoError(t, servers.Register(fake))
	h := NewHandler(servers, zap.NewNop())
	return NewRouter(h, config.HTTPConfig{}, config.MetricsConfig{Enabled: true, Path: "/metrics"}), fake
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *ErrorBody      `json:"error"`
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestServerRegistry(t *testing.T) {
	servers := NewServerRegistry()
	require.NoError(t, servers.Register(&fakeServer{}))
	assert.True(t, errors.IsType(servers.Register(&fakeServer{}), errors.ErrorTypeConflict))
	assert.Equal(t, []string{"east"}, servers.Names())

	_, err := servers.Get("west")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	servers.Unregister("east")
	assert.Empty(t, servers.Names())
}

func TestRouter_Reads(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, env := do(t, router, "GET", "/servers/east/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.Error)
	var st daemon.Status
	require.NoError(t, json.Unmarshal(env.Result, &st))
	assert.True(t, st.Running)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec, env = do(t, router, "GET", "/servers/east/connectors/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report integration.ConnectorReport
	require.NoError(t, json.Unmarshal(env.Result, &report))
	assert.Equal(t, integration.StatusWaiting, report.Status)

	rec, env = do(t, router, "GET", "/servers/east/connectors/orders/reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reports []integration.IntegrationReport
	require.NoError(t, json.Unmarshal(env.Result, &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"t1"}, reports[0].Created)

	rec, _ = do(t, router, "GET", "/servers/east/services/catalogue/summary", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, router, "GET", "/servers/east/groups/lake/summary", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, router, "GET", "/servers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "integrationd_api_requests_total")
}

func TestRouter_Errors(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, env := do(t, router, "GET", "/servers/west/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.ErrorTypeNotFound, env.Error.Kind)
	assert.Equal(t, "west", env.Error.Context["server"])

	rec, env = do(t, router, "POST", "/servers/east/services/catalogue/refresh?connector=missing", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.ErrorTypeValidation, env.Error.Kind)
	assert.Equal(t, "missing", env.Error.Context["connector"])

	rec, env = do(t, router, "GET", "/servers/east/services/other/summary", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)

	rec, env = do(t, router, "PUT", "/servers/east/connectors/orders/endpoint-address", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.ErrorTypeValidation, env.Error.Kind)

	rec, env = do(t, router, "POST", "/servers/east/groups/lake/connectors/gone/refresh-config", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.ErrorTypeUnavailable, env.Error.Kind)
}

func TestRouter_Operations(t *testing.T) {
	router, fake := newTestRouter(t)

	rec, _ := do(t, router, "POST", "/servers/east/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, router, "POST", "/servers/east/restart?connector=orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, router, "POST", "/servers/east/services/catalogue/restart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"refresh::", "restart::orders", "restart:catalogue:"}, fake.calls)

	rec, _ = do(t, router, "PUT", "/servers/east/connectors/orders/configuration-properties",
		`{"configuration_properties":{"query":"select 1"},"replace":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"query": "select 1"}, fake.props)
	assert.True(t, fake.replace)

	rec, _ = do(t, router, "PUT", "/servers/east/connectors/orders/endpoint-address", `{"network_address":"db:5432"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "db:5432", fake.address)

	rec, _ = do(t, router, "PUT", "/servers/east/connectors/orders/connection",
		`{"connector_type":"sql-poller","endpoint":{"network_address":"replica:5432"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sql-poller", fake.connection.ConnectorType)
	assert.Equal(t, "replica:5432", fake.connection.Endpoint.NetworkAddress)

	rec, env := do(t, router, "POST", "/servers/east/groups/lake/refresh-config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res integration.ReconcileResult
	require.NoError(t, json.Unmarshal(env.Result, &res))
	assert.Equal(t, 2, res.Added)

	rec, env = do(t, router, "POST", "/servers/east/groups/lake/connectors/orders/refresh-config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Result, &res))
	assert.Equal(t, integration.ReconcileResult{Updated: 1}, res)
}
