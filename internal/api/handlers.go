package api

import (
	"net/http"

	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/json"
	"github.com/ajitpratap0/integrationd/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler serves the operator routes of every registered server
type Handler struct {
	servers *ServerRegistry
	logger  *zap.Logger
}

// NewHandler creates a handler over servers
func NewHandler(servers *ServerRegistry, l *zap.Logger) *Handler {
	if l == nil {
		l = logger.Get()
	}
	return &Handler{servers: servers, logger: l.With(zap.String("component", "api"))}
}

// RegisterRoutes registers the operator routes on r
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/servers", h.ListServers).Methods("GET")

	s := r.PathPrefix("/servers/{server}").Subrouter()
	s.HandleFunc("/status", h.serve(h.Status)).Methods("GET")
	s.HandleFunc("/summary", h.serve(h.Summary)).Methods("GET")
	s.HandleFunc("/audit", h.serve(h.Audit)).Methods("GET")
	s.HandleFunc("/refresh", h.serve(h.RefreshAll)).Methods("POST")
	s.HandleFunc("/restart", h.serve(h.RestartAll)).Methods("POST")

	s.HandleFunc("/services/{service}/summary", h.serve(h.ServiceSummary)).Methods("GET")
	s.HandleFunc("/services/{service}/refresh", h.serve(h.RefreshService)).Methods("POST")
	s.HandleFunc("/services/{service}/restart", h.serve(h.RestartService)).Methods("POST")

	s.HandleFunc("/connectors/{connector}", h.serve(h.ConnectorReport)).Methods("GET")
	s.HandleFunc("/connectors/{connector}/reports", h.serve(h.ConnectorReports)).Methods("GET")
	s.HandleFunc("/connectors/{connector}/configuration-properties", h.serve(h.UpdateConfigurationProperties)).Methods("PUT")
	s.HandleFunc("/connectors/{connector}/endpoint-address", h.serve(h.UpdateEndpointAddress)).Methods("PUT")
	s.HandleFunc("/connectors/{connector}/connection", h.serve(h.UpdateConnection)).Methods("PUT")

	s.HandleFunc("/groups/{group}/summary", h.serve(h.GroupSummary)).Methods("GET")
	s.HandleFunc("/groups/{group}/refresh-config", h.serve(h.RefreshGroupConfig)).Methods("POST")
	s.HandleFunc("/groups/{group}/connectors/{connector}/refresh-config", h.serve(h.RefreshConnectorConfig)).Methods("POST")
}

// serverFunc handles a request addressed to one resolved server and returns
// the result to wrap in the response envelope
type serverFunc func(r *http.Request, s Server) (interface{}, error)

func (h *Handler) serve(fn serverFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["server"]
		l := logger.WithContext(r.Context()).With(zap.String("server", name))

		s, err := h.servers.Get(name)
		if err != nil {
			writeError(w, l, err)
			return
		}
		result, err := fn(r, s)
		if err != nil {
			writeError(w, l, err)
			return
		}
		writeResult(w, l, result)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New(errors.ErrorTypeValidation, "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "request body is not valid JSON")
	}
	return nil
}

// ListServers handles GET /servers
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	writeResult(w, logger.WithContext(r.Context()), h.servers.Names())
}

// Status handles GET /servers/{server}/status
func (h *Handler) Status(_ *http.Request, s Server) (interface{}, error) {
	return s.Status(), nil
}

// Summary handles GET /servers/{server}/summary
func (h *Handler) Summary(_ *http.Request, s Server) (interface{}, error) {
	return s.Summary(), nil
}

// Audit handles GET /servers/{server}/audit
func (h *Handler) Audit(_ *http.Request, s Server) (interface{}, error) {
	return s.AuditEntries(), nil
}

// RefreshAll handles POST /servers/{server}/refresh. The optional connector
// query parameter selects one connector by id or name.
func (h *Handler) RefreshAll(r *http.Request, s Server) (interface{}, error) {
	return Ack{Done: true}, s.RefreshConnector(r.Context(), "", r.URL.Query().Get("connector"))
}

// RestartAll handles POST /servers/{server}/restart
func (h *Handler) RestartAll(r *http.Request, s Server) (interface{}, error) {
	return Ack{Done: true}, s.RestartConnector(r.Context(), "", r.URL.Query().Get("connector"))
}

// ServiceSummary handles GET /servers/{server}/services/{service}/summary
func (h *Handler) ServiceSummary(r *http.Request, s Server) (interface{}, error) {
	return s.ServiceSummary(mux.Vars(r)["service"])
}

// RefreshService handles POST /servers/{server}/services/{service}/refresh
func (h *Handler) RefreshService(r *http.Request, s Server) (interface{}, error) {
	return Ack{Done: true}, s.RefreshConnector(r.Context(), mux.Vars(r)["service"], r.URL.Query().Get("connector"))
}

// RestartService handles POST /servers/{server}/services/{service}/restart
func (h *Handler) RestartService(r *http.Request, s Server) (interface{}, error) {
	return Ack{Done: true}, s.RestartConnector(r.Context(), mux.Vars(r)["service"], r.URL.Query().Get("connector"))
}

// ConnectorReport handles GET /servers/{server}/connectors/{connector}
func (h *Handler) ConnectorReport(r *http.Request, s Server) (interface{}, error) {
	return s.ConnectorReport(mux.Vars(r)["connector"])
}

// ConnectorReports handles GET /servers/{server}/connectors/{connector}/reports
func (h *Handler) ConnectorReports(r *http.Request, s Server) (interface{}, error) {
	return s.Reports(mux.Vars(r)["connector"])
}

// PropertiesRequest is the body of a configuration properties update
type PropertiesRequest struct {
	Properties map[string]interface{} `json:"configuration_properties"`
	Replace    bool                   `json:"replace"`
}

// UpdateConfigurationProperties handles
// PUT /servers/{server}/connectors/{connector}/configuration-properties
func (h *Handler) UpdateConfigurationProperties(r *http.Request, s Server) (interface{}, error) {
	var req PropertiesRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return Ack{Done: true}, s.UpdateConfigurationProperties(r.Context(), mux.Vars(r)["connector"], req.Properties, req.Replace)
}

// EndpointRequest is the body of an endpoint address update
type EndpointRequest struct {
	NetworkAddress string `json:"network_address"`
}

// UpdateEndpointAddress handles
// PUT /servers/{server}/connectors/{connector}/endpoint-address
func (h *Handler) UpdateEndpointAddress(r *http.Request, s Server) (interface{}, error) {
	var req EndpointRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return Ack{Done: true}, s.UpdateEndpointNetworkAddress(r.Context(), mux.Vars(r)["connector"], req.NetworkAddress)
}

// UpdateConnection handles PUT /servers/{server}/connectors/{connector}/connection
func (h *Handler) UpdateConnection(r *http.Request, s Server) (interface{}, error) {
	var conn core.Connection
	if err := decodeBody(r, &conn); err != nil {
		return nil, err
	}
	return Ack{Done: true}, s.UpdateConnectorConnection(r.Context(), mux.Vars(r)["connector"], conn)
}

// GroupSummary handles GET /servers/{server}/groups/{group}/summary
func (h *Handler) GroupSummary(r *http.Request, s Server) (interface{}, error) {
	return s.GroupSummary(mux.Vars(r)["group"])
}

// RefreshGroupConfig handles POST /servers/{server}/groups/{group}/refresh-config
func (h *Handler) RefreshGroupConfig(r *http.Request, s Server) (interface{}, error) {
	return s.RefreshGroupConfig(r.Context(), mux.Vars(r)["group"])
}

// RefreshConnectorConfig handles
// POST /servers/{server}/groups/{group}/connectors/{connector}/refresh-config
func (h *Handler) RefreshConnectorConfig(r *http.Request, s Server) (interface{}, error) {
	vars := mux.Vars(r)
	return s.RefreshConnectorConfig(r.Context(), vars["group"], vars["connector"])
}
