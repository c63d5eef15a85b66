// Package payments speaks the MoMo-style gateway contract: signed link
// creation plus the browser return and server-to-server notify callbacks.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Callback is the field set the gateway sends on both the return redirect and
// the notify call.
type Callback struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// Signer computes HMAC-SHA256 signatures with the partner secret.
type Signer struct {
	accessKey string
	secretKey []byte
}

func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{accessKey: accessKey, secretKey: []byte(secretKey)}
}

// Sign returns the lowercase hex HMAC of raw.
func (s *Signer) Sign(raw string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateLinkRaw is the canonical string signed on link creation. Field order is fixed.
func (s *Signer) CreateLinkRaw(req LinkRequest) string {
	return fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		s.accessKey, req.Amount, req.ExtraData, req.IPNURL, req.OrderID, req.OrderInfo,
		req.PartnerCode, req.RedirectURL, req.RequestID, req.RequestType,
	)
}

// CallbackRaw is the canonical string the gateway signs on callbacks.
func (s *Signer) CallbackRaw(cb Callback) string {
	return fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		s.accessKey, cb.Amount, cb.ExtraData, cb.Message, cb.OrderID, cb.OrderInfo, cb.OrderType,
		cb.PartnerCode, cb.PayType, cb.RequestID, cb.ResponseTime, cb.ResultCode, cb.TransID,
	)
}

// Verify reports whether cb carries a valid signature.
func (s *Signer) Verify(cb Callback) bool {
	if cb.Signature == "" {
		return false
	}
	expected := s.Sign(s.CallbackRaw(cb))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(cb.Signature)))
}

// CallbackFromQuery parses the return redirect query string.
func CallbackFromQuery(q url.Values) (Callback, error) {
	cb := Callback{
		PartnerCode: q.Get("partnerCode"),
		OrderID:     strings.TrimSpace(q.Get("orderId")),
		RequestID:   q.Get("requestId"),
		OrderInfo:   q.Get("orderInfo"),
		OrderType:   q.Get("orderType"),
		Message:     q.Get("message"),
		PayType:     q.Get("payType"),
		ExtraData:   q.Get("extraData"),
		Signature:   q.Get("signature"),
	}
	if cb.OrderID == "" {
		return cb, fmt.Errorf("orderId is required")
	}
	var err error
	if cb.Amount, err = parseInt(q, "amount"); err != nil {
		return cb, err
	}
	if cb.TransID, err = parseInt(q, "transId"); err != nil {
		return cb, err
	}
	if cb.ResponseTime, err = parseInt(q, "responseTime"); err != nil {
		return cb, err
	}
	if strings.TrimSpace(q.Get("resultCode")) == "" {
		return cb, fmt.Errorf("resultCode is required")
	}
	code, err := parseInt(q, "resultCode")
	if err != nil {
		return cb, err
	}
	cb.ResultCode = int(code)
	return cb, nil
}

func parseInt(q url.Values, key string) (int64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}
