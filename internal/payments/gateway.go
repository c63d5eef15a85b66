package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/musicx/musicx-backend/pkg/config"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/metrics"
)

const (
	resultCodeSuccess      = 0
	resultCodeAwaitingUser = 1000
	responseBodyLimit      = 64 << 10
	defaultRequestTimeout  = 10 * time.Second
)

// LinkRequest is the signed body posted to the gateway's create endpoint.
type LinkRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	Lang        string `json:"lang"`
	RequestType string `json:"requestType"`
	AutoCapture bool   `json:"autoCapture"`
	ExtraData   string `json:"extraData"`
	Signature   string `json:"signature"`
}

// LinkResponse is the gateway's answer to a create request.
type LinkResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
	Deeplink    string `json:"deeplink,omitempty"`
	QRCodeURL   string `json:"qrCodeUrl,omitempty"`
}

// GatewayClient creates payment links against the gateway HTTP API.
type GatewayClient struct {
	httpClient *http.Client
	endpoint   string
	cfg        config.MoMoConfig
	signer     *Signer
	metrics    *metrics.PaymentMetrics
}

// GatewayOption configures optional client behavior.
type GatewayOption func(*GatewayClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(c *GatewayClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithEndpoint overrides the configured create endpoint.
func WithEndpoint(endpoint string) GatewayOption {
	return func(c *GatewayClient) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			c.endpoint = trimmed
		}
	}
}

// WithMetrics records request latency.
func WithMetrics(m *metrics.PaymentMetrics) GatewayOption {
	return func(c *GatewayClient) {
		c.metrics = m
	}
}

// NewGatewayClient builds the client from gateway configuration.
func NewGatewayClient(cfg config.MoMoConfig, signer *Signer, opts ...GatewayOption) (*GatewayClient, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("payment gateway credentials are not configured")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := &GatewayClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.APIURL,
		cfg:        cfg,
		signer:     signer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Amount converts an order total into the gateway's integer minor-unit-free amount.
func Amount(total decimal.Decimal) int64 {
	return total.Round(0).IntPart()
}

// BuildLinkRequest assembles and signs the create request for an order code.
func (c *GatewayClient) BuildLinkRequest(orderCode string, total decimal.Decimal) LinkRequest {
	req := LinkRequest{
		PartnerCode: c.cfg.PartnerCode,
		AccessKey:   c.cfg.AccessKey,
		RequestID:   orderCode,
		Amount:      Amount(total),
		OrderID:     orderCode,
		OrderInfo:   "Payment for " + orderCode,
		RedirectURL: c.cfg.ReturnURL,
		IPNURL:      c.cfg.NotifyURL,
		Lang:        c.cfg.Lang,
		RequestType: c.cfg.RequestType,
		AutoCapture: true,
	}
	req.Signature = c.signer.Sign(c.signer.CreateLinkRaw(req))
	return req
}

// CreatePaymentLink posts the signed request and returns the payer URL.
// Transport failures and timeouts map to GATEWAY_UNREACHABLE, a non-zero
// result code to GATEWAY_REJECTED.
func (c *GatewayClient) CreatePaymentLink(ctx context.Context, orderCode string, total decimal.Decimal) (*LinkResponse, error) {
	started := time.Now()
	resp, err := c.post(ctx, c.BuildLinkRequest(orderCode, total))
	outcome := "ok"
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeGatewayRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "unreachable"
	}
	c.metrics.ObserveGatewayRequest(outcome, time.Since(started))
	return resp, err
}

func (c *GatewayClient) post(ctx context.Context, req LinkRequest) (*LinkResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal payment link request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "build payment link request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "execute payment link request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "read payment link response")
	}

	var out LinkResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, pkgerrors.Wrap(
			pkgerrors.CodeGatewayUnreachable,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"decode payment link response",
		)
	}
	if out.ResultCode != resultCodeSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, "payment gateway rejected the link request").
			WithDetails(map[string]any{"result_code": out.ResultCode, "message": out.Message})
	}
	if out.PayURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, "payment gateway returned no pay url")
	}
	return &out, nil
}
