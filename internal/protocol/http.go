package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/types"
)

// Options configures an HTTPAdapter
type Options struct {
	Name    string
	Kind    Kind
	BaseURL string
	APIKey  string

	// Chains the protocol can move value between. Any ordered pair of distinct chains
	// in the set is considered supported.
	Chains []string

	// How often an in-flight transfer is polled
	PollInterval time.Duration

	// How long to wait for a transfer to reach a terminal state
	TransferTimeout time.Duration

	// Retry and rate-limit settings for outbound calls
	RetryMax  int
	RateLimit float64
	RateBurst int

	// TimeoutCode is reported when TransferTimeout elapses
	TimeoutCode model.ErrorCode
}

// HTTPAdapter drives a bridge protocol through its REST API:
//
//	POST {base}/v1/quote           -> {fee, estimatedTimeMs}
//	POST {base}/v1/transfers       -> {id, status, depositAddress, sourceTxHash}
//	GET  {base}/v1/transfers/{id}  -> {status, sourceTxHash, destinationTxHash, error, errorCode, suggestFallback}
//	GET  {base}/v1/health          -> {successRate, averageTimeMs, consecutiveFailures}
type HTTPAdapter struct {
	opts       Options
	chains     mapset.Set[types.SupportedChain]
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPAdapter creates an adapter from options, filling defaults
func NewHTTPAdapter(opts Options) (*HTTPAdapter, error) {
	if opts.Name == "" {
		return nil, errors.New("protocol name is required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("protocol %s: base URL is required", opts.Name)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 30 * time.Minute
	}
	if opts.TimeoutCode == "" {
		opts.TimeoutCode = model.ErrTransactionTimeout
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}

	chains := mapset.NewSet[types.SupportedChain]()
	for _, c := range opts.Chains {
		chains.Add(types.Normalize(c))
	}

	return &HTTPAdapter{
		opts:       opts,
		chains:     chains,
		httpClient: StandardClient(newRetryClient(opts.RetryMax)),
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

// WithHTTPClient replaces the transport, used by tests
func (a *HTTPAdapter) WithHTTPClient(c *http.Client) *HTTPAdapter {
	a.httpClient = c
	return a
}

// Name returns the protocol identifier
func (a *HTTPAdapter) Name() string {
	return a.opts.Name
}

// Kind returns the protocol family
func (a *HTTPAdapter) Kind() Kind {
	return a.opts.Kind
}

// Supports reports whether both chains are served and distinct
func (a *HTTPAdapter) Supports(source, destination string) bool {
	src, dst := types.Normalize(source), types.Normalize(destination)
	return src != dst && a.chains.Contains(src) && a.chains.Contains(dst)
}

type quoteResponse struct {
	Fee             string `json:"fee"`
	EstimatedTimeMs int64  `json:"estimatedTimeMs"`
}

type transferResponse struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	DepositAddress    string          `json:"depositAddress,omitempty"`
	SourceTxHash      string          `json:"sourceTxHash,omitempty"`
	DestinationTxHash string          `json:"destinationTxHash,omitempty"`
	Error             string          `json:"error,omitempty"`
	ErrorCode         model.ErrorCode `json:"errorCode,omitempty"`
	SuggestFallback   bool            `json:"suggestFallback,omitempty"`
	FallbackReason    string          `json:"fallbackReason,omitempty"`
}

type healthResponse struct {
	SuccessRate         float64 `json:"successRate"`
	AverageTimeMs       int64   `json:"averageTimeMs"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
}

type apiError struct {
	Error     string          `json:"error"`
	ErrorCode model.ErrorCode `json:"errorCode"`
}

type transferRequest struct {
	SourceChain        string `json:"sourceChain"`
	DestinationChain   string `json:"destinationChain"`
	SourceAddress      string `json:"sourceAddress"`
	DestinationAddress string `json:"destinationAddress"`
	SourceToken        string `json:"sourceToken"`
	DestinationToken   string `json:"destinationToken"`
	Amount             string `json:"amount"`
}

func newTransferRequest(p model.BridgeParams) transferRequest {
	return transferRequest{
		SourceChain:        p.SourceChain,
		DestinationChain:   p.DestinationChain,
		SourceAddress:      p.SourceAddress,
		DestinationAddress: p.DestinationAddress,
		SourceToken:        p.SourceToken,
		DestinationToken:   p.DestinationToken,
		Amount:             p.Amount,
	}
}

// Estimate quotes fee and duration
func (a *HTTPAdapter) Estimate(ctx context.Context, params model.BridgeParams) (model.BridgeEstimate, error) {
	var q quoteResponse
	if err := a.do(ctx, http.MethodPost, "/v1/quote", newTransferRequest(params), &q); err != nil {
		return model.BridgeEstimate{}, err
	}
	if q.EstimatedTimeMs < 0 {
		q.EstimatedTimeMs = 0
	}
	return model.BridgeEstimate{FeeEstimate: q.Fee, TimeEstimateMs: q.EstimatedTimeMs}, nil
}

// Bridge submits a transfer and polls it to a terminal state
func (a *HTTPAdapter) Bridge(ctx context.Context, params model.BridgeParams, report model.StatusReporter) (model.BridgeResult, error) {
	if report == nil {
		report = func(string, map[string]string) {}
	}

	var created transferResponse
	if err := a.do(ctx, http.MethodPost, "/v1/transfers", newTransferRequest(params), &created); err != nil {
		return model.BridgeResult{}, err
	}
	if created.ID == "" {
		return model.BridgeResult{}, model.NewBridgeError(model.ErrUnknown, a.opts.Name, "transfer created without id")
	}

	details := map[string]string{"transferId": created.ID}
	if created.DepositAddress != "" {
		details["depositAddress"] = created.DepositAddress
	}
	if created.SourceTxHash != "" {
		details["sourceTxHash"] = created.SourceTxHash
	}
	report("submitted", details)

	log := logrus.WithFields(logrus.Fields{"protocol": a.opts.Name, "transfer_id": created.ID})
	log.Debug("Transfer submitted, polling for completion")

	deadline := time.NewTimer(a.opts.TransferTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	lastStage := created.Status
	pollErrors := 0
	for {
		select {
		case <-ctx.Done():
			return model.BridgeResult{}, ctx.Err()
		case <-deadline.C:
			return model.BridgeResult{
				Protocol:     a.opts.Name,
				Status:       model.StatusFailed,
				SourceTxHash: created.SourceTxHash,
				Error:        fmt.Sprintf("transfer %s did not complete within %s", created.ID, a.opts.TransferTimeout),
				ErrorCode:    a.opts.TimeoutCode,
			}, nil
		case <-ticker.C:
			var st transferResponse
			if err := a.do(ctx, http.MethodGet, "/v1/transfers/"+created.ID, nil, &st); err != nil {
				pollErrors++
				log.WithError(err).Debug("Transfer status poll failed")
				if pollErrors >= 3 {
					return model.BridgeResult{}, err
				}
				continue
			}
			pollErrors = 0
			if st.SourceTxHash == "" {
				st.SourceTxHash = created.SourceTxHash
			}

			if st.Status != "" && st.Status != lastStage {
				lastStage = st.Status
				report(st.Status, stageDetails(created.ID, st))
			}

			switch strings.ToLower(st.Status) {
			case model.StatusCompleted:
				return model.BridgeResult{
					Success:           true,
					Protocol:          a.opts.Name,
					Status:            model.StatusCompleted,
					SourceTxHash:      st.SourceTxHash,
					DestinationTxHash: st.DestinationTxHash,
				}, nil
			case model.StatusFailed:
				code := st.ErrorCode
				if code == "" {
					code = model.ErrUnknown
				}
				return model.BridgeResult{
					Protocol:        a.opts.Name,
					Status:          model.StatusFailed,
					SourceTxHash:    st.SourceTxHash,
					Error:           st.Error,
					ErrorCode:       code,
					SuggestFallback: st.SuggestFallback,
					FallbackReason:  st.FallbackReason,
				}, nil
			}
		}
	}
}

func stageDetails(id string, st transferResponse) map[string]string {
	d := map[string]string{"transferId": id}
	if st.SourceTxHash != "" {
		d["sourceTxHash"] = st.SourceTxHash
	}
	if st.DestinationTxHash != "" {
		d["destinationTxHash"] = st.DestinationTxHash
	}
	return d
}

// GetHealth reads the protocol's status endpoint
func (a *HTTPAdapter) GetHealth(ctx context.Context) (model.ProtocolHealth, error) {
	start := time.Now()
	var h healthResponse
	if err := a.do(ctx, http.MethodGet, "/v1/health", nil, &h); err != nil {
		return model.ProtocolHealth{}, err
	}

	successRate := h.SuccessRate
	if successRate < 0 {
		successRate = 0
	} else if successRate > 1 {
		successRate = 1
	}
	avg := h.AverageTimeMs
	if avg <= 0 {
		avg = time.Since(start).Milliseconds()
	}
	return model.ProtocolHealth{
		Protocol:            a.opts.Name,
		SuccessRate:         successRate,
		AverageTimeMs:       avg,
		ConsecutiveFailures: h.ConsecutiveFailures,
	}, nil
}

// Upper bounds on protocol API response bodies
const (
	maxResponseBytes = 1 << 20
	maxErrorBytes    = 64 << 10
)

// do performs a JSON request and classifies failures into BridgeErrors
func (a *HTTPAdapter) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.opts.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.opts.APIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return model.WrapBridgeError(model.ErrNetwork, a.opts.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return a.classifyStatus(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return model.WrapBridgeError(model.ErrUnknown, a.opts.Name, fmt.Errorf("error decoding response: %w", err))
	}
	return nil
}

func (a *HTTPAdapter) classifyStatus(status int, raw []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)

	msg := apiErr.Error
	if msg == "" {
		msg = fmt.Sprintf("%s API error: status %d, body: %s", a.opts.Name, status, strings.TrimSpace(string(raw)))
	}
	if apiErr.ErrorCode != "" {
		return model.NewBridgeError(apiErr.ErrorCode, a.opts.Name, "%s", msg)
	}

	var code model.ErrorCode
	switch {
	case status == http.StatusPaymentRequired:
		code = model.ErrInsufficientFunds
	case status == http.StatusConflict:
		code = model.ErrNonceConflict
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = model.ErrTransactionTimeout
	case status == http.StatusServiceUnavailable:
		code = model.ErrProtocolUnavailable
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		code = model.ErrNetwork
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = model.ErrInvalidRequest
	default:
		code = model.ErrUnknown
	}
	return model.NewBridgeError(code, a.opts.Name, "%s", msg)
}

var _ Adapter = (*HTTPAdapter)(nil)
