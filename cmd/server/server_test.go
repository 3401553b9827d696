package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/unified-bridge/internal/bridge"
	"github.com/yourorg/unified-bridge/internal/circuitbreaker"
	"github.com/yourorg/unified-bridge/internal/config"
	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/protocol"
	"github.com/yourorg/unified-bridge/internal/protocol/protocoltest"
	"github.com/yourorg/unified-bridge/internal/registry"
	"github.com/yourorg/unified-bridge/internal/security"
	"github.com/yourorg/unified-bridge/internal/telemetry"
)

const (
	srcAddr = "0x52908400098527886E0F7030069857D2E4169EE7"
	dstAddr = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

func testConfig() config.Config {
	return config.Config{
		Port:           "0",
		RequestTimeout: 5 * time.Second,
		BridgeTimeout:  5 * time.Second,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		EnableMetrics:  true,
		StatusBuffer:   16,
	}
}

func newTestServer(t *testing.T, cfg config.Config, opts ServerOptions, adapters ...protocol.Adapter) (*Server, *httptest.Server) {
	t.Helper()
	reg := registry.New(circuitbreaker.DefaultThresholds())
	for _, a := range adapters {
		reg.Register(a)
	}

	promReg := prometheus.NewRegistry()
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New(promReg)
		opts.Gatherer = promReg
	}
	manager := bridge.New(reg).WithMetrics(opts.Metrics)

	s := NewServer(cfg, manager, opts)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func bridgeBody(protocolName string) []byte {
	body, _ := json.Marshal(model.BridgeParams{
		SourceChain:        "arbitrum",
		DestinationChain:   "base",
		SourceAddress:      srcAddr,
		DestinationAddress: dstAddr,
		SourceToken:        "USDC",
		DestinationToken:   "USDC",
		Amount:             "250",
		Protocol:           protocolName,
	})
	return body
}

func post(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestHandleBridge_Success(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), ServerOptions{}, protocoltest.New("cctp", "0.20", 600000, 0.99))

	resp := post(t, ts.URL+"/bridge", bridgeBody(""))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out BridgeResponse
	decode(t, resp, &out)
	assert.True(t, out.Result.Success)
	assert.Equal(t, "cctp", out.Result.Protocol)
	assert.NotEmpty(t, out.Result.RequestID)
	assert.Nil(t, out.Receipt)
}

func TestHandleBridge_ErrorStatuses(t *testing.T) {
	funds := protocoltest.New("cctp", "0.20", 600000, 0.99).Failing(model.ErrInsufficientFunds)
	_, ts := newTestServer(t, testConfig(), ServerOptions{}, funds)

	t.Run("malformed body", func(t *testing.T) {
		resp := post(t, ts.URL+"/bridge", []byte(`{"sourceChain":`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown field", func(t *testing.T) {
		resp := post(t, ts.URL+"/bridge", []byte(`{"sourceChain":"arbitrum","speed":"ludicrous"}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("validation", func(t *testing.T) {
		resp := post(t, ts.URL+"/bridge", []byte(`{"sourceChain":"arbitrum","destinationChain":"base","amount":"0"}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var out BridgeResponse
		decode(t, resp, &out)
		assert.Equal(t, model.ErrInvalidRequest, out.Result.ErrorCode)
	})

	t.Run("unknown protocol", func(t *testing.T) {
		resp := post(t, ts.URL+"/bridge", bridgeBody("teleport"))
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		resp := post(t, ts.URL+"/bridge", bridgeBody("cctp"))
		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/bridge")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestHandleBridge_OversizedBody(t *testing.T) {
	cctp := protocoltest.New("cctp", "0.20", 600000, 0.99)
	_, ts := newTestServer(t, testConfig(), ServerOptions{}, cctp)

	body := `{"sourceChain":"` + strings.Repeat("a", 2*maxRequestBytes) + `"}`
	resp := post(t, ts.URL+"/bridge", []byte(body))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, cctp.BridgeCalls())
}

func TestHandleBridge_SignedReceipt(t *testing.T) {
	signer, err := security.NewReceiptSigner(security.SignerOptions{})
	require.NoError(t, err)
	_, ts := newTestServer(t, testConfig(), ServerOptions{Signer: signer}, protocoltest.New("cctp", "0.20", 600000, 0.99))

	resp := post(t, ts.URL+"/bridge", bridgeBody("cctp"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out BridgeResponse
	decode(t, resp, &out)
	require.NotNil(t, out.Receipt)
	assert.Equal(t, signer.Address().Hex(), out.Receipt.Signer)
	assert.NoError(t, signer.Verify(*out.Receipt))
}

func TestHandleRoutes(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), ServerOptions{},
		protocoltest.New("cctp", "0.20", 600000, 0.99),
		protocoltest.New("wormhole", "0.80", 300000, 0.97),
	)

	resp := post(t, ts.URL+"/routes", bridgeBody(""))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out RoutesResponse
	decode(t, resp, &out)
	require.Len(t, out.Routes, 2)
	assert.GreaterOrEqual(t, out.Routes[0].Score, out.Routes[1].Score)
	assert.True(t, out.Routes[0].IsRecommended)
	assert.False(t, out.Routes[1].IsRecommended)

	resp = post(t, ts.URL+"/routes", []byte(`{"sourceChain":"arbitrum"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleAllRoutes_LoadsLazyProtocols(t *testing.T) {
	s, ts := newTestServer(t, testConfig(), ServerOptions{})
	s.manager.Registry().RegisterLoader("near-intents", func(context.Context) (protocol.Adapter, error) {
		return protocoltest.New("near-intents", "0.05", 60000, 0.98), nil
	})

	resp := post(t, ts.URL+"/routes", bridgeBody(""))
	var before RoutesResponse
	decode(t, resp, &before)
	assert.Empty(t, before.Routes)

	resp = post(t, ts.URL+"/routes/all", bridgeBody(""))
	var after RoutesResponse
	decode(t, resp, &after)
	require.Len(t, after.Routes, 1)
	assert.Equal(t, "near-intents", after.Routes[0].Protocol)
}

func TestHandleHealthAndStatus(t *testing.T) {
	flaky := protocoltest.New("wormhole", "0.80", 300000, 0.40)
	flaky.Health.ConsecutiveFailures = 5
	_, ts := newTestServer(t, testConfig(), ServerOptions{}, protocoltest.New("cctp", "0.20", 600000, 0.99), flaky)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health/protocols")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health struct {
		Protocols []model.ProtocolHealth `json:"protocols"`
	}
	decode(t, resp, &health)
	require.Len(t, health.Protocols, 2)
	assert.Equal(t, "cctp", health.Protocols[0].Protocol)

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status StatusResponse
	decode(t, resp, &status)
	assert.Equal(t, []string{"cctp", "wormhole"}, status.Protocols)
	assert.Equal(t, []string{"cctp", "wormhole"}, status.Loaded)
	assert.Equal(t, "closed", status.LoadCache["cctp"])
	assert.Equal(t, 2, status.Performance.ProtocolCount)
	assert.Equal(t, "cctp", status.Performance.BestProtocol)
	assert.NotEmpty(t, status.Recommendations)
}

func adminPost(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleAdminCaches(t *testing.T) {
	cfg := testConfig()
	cfg.AdminAPIKey = "admin-secret"
	cctp := protocoltest.New("cctp", "0.20", 600000, 0.99)
	_, ts := newTestServer(t, cfg, ServerOptions{}, cctp)

	get := func() {
		resp, err := http.Get(ts.URL + "/health/protocols")
		require.NoError(t, err)
		resp.Body.Close()
	}
	get()
	get()
	assert.Equal(t, 1, cctp.HealthCalls())

	resp := adminPost(t, ts.URL+"/admin/cache/health", "admin-secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	get()
	assert.Equal(t, 2, cctp.HealthCalls())

	resp = adminPost(t, ts.URL+"/admin/cache/loads", "admin-secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleAdminCaches_RequireKey(t *testing.T) {
	cfg := testConfig()
	cfg.AdminAPIKey = "admin-secret"
	cctp := protocoltest.New("cctp", "0.20", 600000, 0.99)
	_, ts := newTestServer(t, cfg, ServerOptions{}, cctp)

	resp, err := http.Get(ts.URL + "/health/protocols")
	require.NoError(t, err)
	resp.Body.Close()

	for _, path := range []string{"/admin/cache/health", "/admin/cache/loads"} {
		assert.Equal(t, http.StatusUnauthorized, adminPost(t, ts.URL+path, "").StatusCode, path)
		assert.Equal(t, http.StatusUnauthorized, adminPost(t, ts.URL+path, "wrong").StatusCode, path)
	}

	resp, err = http.Get(ts.URL + "/health/protocols")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 1, cctp.HealthCalls(), "Rejected admin calls must not clear the health cache")

	_, open := newTestServer(t, testConfig(), ServerOptions{})
	assert.Equal(t, http.StatusForbidden, adminPost(t, open.URL+"/admin/cache/health", "anything").StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	_, ts := newTestServer(t, cfg, ServerOptions{}, protocoltest.New("cctp", "0.20", 600000, 0.99))

	first := post(t, ts.URL+"/routes", bridgeBody(""))
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := post(t, ts.URL+"/routes", bridgeBody(""))
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestHandleMetrics(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), ServerOptions{}, protocoltest.New("cctp", "0.20", 600000, 0.99))
	post(t, ts.URL+"/bridge", bridgeBody("cctp"))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `bridge_attempts_total{attempt="primary",error_code="",outcome="success",protocol="cctp"} 1`)
	assert.Contains(t, string(body), "bridge_http_requests_total")

	cfg := testConfig()
	cfg.EnableMetrics = false
	_, disabled := newTestServer(t, cfg, ServerOptions{})
	resp, err = http.Get(disabled.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBridgeStream(t *testing.T) {
	primary := protocoltest.New("cctp", "0.20", 600000, 0.99).Failing(model.ErrAttestationTimeout)
	primary.Stages = []string{"submitted", "attesting"}
	fallback := protocoltest.New("wormhole", "0.80", 300000, 0.97)
	_, ts := newTestServer(t, testConfig(), ServerOptions{}, primary, fallback)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/bridge/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, bridgeBody("cctp")))

	var frames []StreamMessage
	for {
		var msg StreamMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		frames = append(frames, msg)
		if msg.Type == FrameResult {
			break
		}
	}

	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.Equal(t, FrameResult, last.Type)
	require.NotNil(t, last.Result)
	assert.True(t, last.Result.Result.Success)
	assert.Equal(t, "wormhole", last.Result.Result.Protocol)
	assert.Equal(t, "cctp", last.Result.Result.PrimaryProtocol)

	var stages []string
	for _, f := range frames[:len(frames)-1] {
		require.Equal(t, FrameStatus, f.Type)
		stages = append(stages, f.Status.Protocol+":"+f.Status.Stage)
	}
	assert.Equal(t, []string{
		"cctp:validating", "cctp:submitted", "cctp:attesting", "wormhole:validating",
	}, stages)
}

func TestBridgeStream_InvalidRequest(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), ServerOptions{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/bridge/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	var msg StreamMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, FrameError, msg.Type)
	assert.Contains(t, msg.Error, "invalid request")
}
