package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/unified-bridge/internal/aggregate"
	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/security"
)

// BridgeResponse wraps a bridge result with its optional signed receipt
type BridgeResponse struct {
	Result  model.BridgeResult `json:"result"`
	Receipt *security.Receipt  `json:"receipt,omitempty"`
}

// RoutesResponse lists candidate routes for a chain pair
type RoutesResponse struct {
	Routes []model.BridgeRoute `json:"routes"`
}

// StatusResponse is the operational overview served by /status
type StatusResponse struct {
	Status          string                       `json:"status"`
	Uptime          string                       `json:"uptime"`
	Version         string                       `json:"version"`
	Protocols       []string                     `json:"protocols"`
	Loaded          []string                     `json:"loaded"`
	LoadCache       map[string]string            `json:"loadCache"`
	Performance     aggregate.PerformanceMetrics `json:"performance"`
	Recommendations []string                     `json:"recommendations"`
	Exporter        map[string]interface{}       `json:"exporter,omitempty"`
	SignerAddress   string                       `json:"signerAddress,omitempty"`
}

// httpStatus maps a bridge error code to the HTTP status of the response
func httpStatus(result model.BridgeResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.ErrorCode {
	case model.ErrInvalidRequest, model.ErrInvalidAddress:
		return http.StatusBadRequest
	case model.ErrInsufficientFunds:
		return http.StatusPaymentRequired
	case model.ErrUnsupportedRoute:
		return http.StatusUnprocessableEntity
	case model.ErrProtocolUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrAttestationTimeout, model.ErrTransactionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// maxRequestBytes bounds request bodies and websocket messages
const maxRequestBytes = 64 << 10

func decodeParams(w http.ResponseWriter, r *http.Request) (model.BridgeParams, error) {
	var params model.BridgeParams
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return model.BridgeParams{}, fmt.Errorf("invalid request body: %w", err)
	}
	return params, nil
}

// handleBridge executes a transfer and blocks until it settles
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	params, err := decodeParams(w, r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.BridgeTimeout)
	defer cancel()

	result := s.manager.Bridge(ctx, params)
	writeJSON(w, httpStatus(result), s.wrapResult(result))
}

func (s *Server) wrapResult(result model.BridgeResult) BridgeResponse {
	resp := BridgeResponse{Result: result}
	if s.opts.Signer != nil {
		receipt, err := s.opts.Signer.Sign(result)
		if err != nil {
			logrus.WithError(err).Warn("Failed to sign bridge receipt")
		} else {
			resp.Receipt = &receipt
		}
	}
	return resp
}

func (s *Server) routesRequest(w http.ResponseWriter, r *http.Request) (model.BridgeParams, bool) {
	params, err := decodeParams(w, r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return params, false
	}
	if strings.TrimSpace(params.SourceChain) == "" || strings.TrimSpace(params.DestinationChain) == "" {
		s.errorResponse(w, http.StatusBadRequest, "sourceChain and destinationChain are required")
		return params, false
	}
	return params, true
}

// handleRoutes ranks the already loaded protocols for a chain pair
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	params, ok := s.routesRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, RoutesResponse{Routes: s.manager.GetSuggestedRoutes(ctx, params)})
}

// handleAllRoutes loads every known protocol before ranking
func (s *Server) handleAllRoutes(w http.ResponseWriter, r *http.Request) {
	params, ok := s.routesRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, RoutesResponse{Routes: s.manager.EstimateAllRoutes(ctx, params)})
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleProtocolHealth reports the health of every loaded protocol
func (s *Server) handleProtocolHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"protocols": s.manager.GetSystemHealth(ctx),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	reg := s.manager.Registry()
	health := s.manager.GetSystemHealth(ctx)

	status := StatusResponse{
		Status:          "operational",
		Uptime:          time.Since(startTime).String(),
		Version:         version,
		Protocols:       reg.Names(),
		Loaded:          make([]string, 0),
		LoadCache:       make(map[string]string),
		Performance:     aggregate.Summarize(health),
		Recommendations: aggregate.Recommendations(health),
	}
	for _, a := range reg.Loaded() {
		status.Loaded = append(status.Loaded, a.Name())
	}
	for _, name := range reg.Names() {
		state := reg.LoadCache().GetState(name)
		status.LoadCache[name] = state.String()
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveLoadState(name, state)
		}
	}
	if status.Performance.SystemStatus == aggregate.StatusCritical {
		status.Status = "degraded"
	}
	if s.opts.Exporter != nil {
		status.Exporter = s.opts.Exporter.Status()
	}
	if s.opts.Signer != nil {
		status.SignerAddress = s.opts.Signer.Address().Hex()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleClearHealth drops cached protocol health
func (s *Server) handleClearHealth(w http.ResponseWriter, r *http.Request) {
	s.manager.ClearHealthCache()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Health cache cleared"})
}

// handleClearLoads forgets failed protocol loads
func (s *Server) handleClearLoads(w http.ResponseWriter, r *http.Request) {
	s.manager.ClearProtocolLoadCache()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Protocol load cache cleared"})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableMetrics {
		http.Error(w, "Metrics disabled", http.StatusServiceUnavailable)
		return
	}
	promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
