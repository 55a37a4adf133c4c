// Package compose assembles and signs gateway request envelopes. It depends
// only on momo/signing; the transport and token concerns live elsewhere.
package compose

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"momogw/momo/signing"
	"momogw/observability"
)

// Gateway API methods carried in the envelope.
const (
	MethodPreOrder  = "payment.preorder"
	MethodAuthToken = "payment.authtoken"
)

// apiVersion is the gateway protocol version declared on every envelope.
const apiVersion = "1.0"

const (
	maxTitleLength    = 64
	maxContractLength = 64
)

// maxOrderAmount bounds a single order. Amounts above it are rejected before
// any signing happens.
var maxOrderAmount = new(big.Rat).SetInt64(1_000_000)

// ValidationError reports every business-field rule an order violated. A
// request failing validation never reaches the canonicalizer.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid order: " + strings.Join(e.Violations, "; ")
}

// OrderRequest carries the merchant-supplied business fields for an order.
type OrderRequest struct {
	MerchOrderID string
	Title        string
	Amount       string
	Currency     string
	ContractNo   string
}

// Composer builds signed envelopes for one merchant credential set.
type Composer struct {
	appID     string
	merchCode string
	notifyURL string
	key       *rsa.PrivateKey

	nonceFn func(int) string
	nowFn   func() time.Time
}

// NewComposer constructs a composer. The private key must already be parsed;
// see signing.ParsePrivateKey.
func NewComposer(appID, merchCode, notifyURL string, key *rsa.PrivateKey) *Composer {
	if key == nil {
		panic("composer requires a private key")
	}
	return &Composer{
		appID:     appID,
		merchCode: merchCode,
		notifyURL: notifyURL,
		key:       key,
		nonceFn:   signing.Nonce,
		nowFn:     time.Now,
	}
}

// Envelope builds and signs a gateway envelope around the provided business
// content. The signature covers the canonical rendering of every signable
// field; sign and sign_type are attached afterwards and never signed.
func (c *Composer) Envelope(method string, biz map[string]any) (map[string]any, error) {
	envelope := map[string]any{
		"timestamp":            c.timestamp(),
		"nonce_str":            c.nonceFn(signing.DefaultNonceLength),
		"method":               method,
		"version":              apiVersion,
		signing.BizContentField: biz,
	}
	canonical, err := signing.Canonicalize(envelope)
	if err != nil {
		return nil, err
	}
	// The canonical string is not secret; the signature and key are, and
	// must never be logged.
	slog.Debug("canonicalized envelope", "method", method, "canonical", canonical)
	sig, err := signing.Sign(canonical, c.key)
	if err != nil {
		observability.Gateway().SignOps.WithLabelValues("sign", "error").Inc()
		return nil, err
	}
	observability.Gateway().SignOps.WithLabelValues("sign", "ok").Inc()
	envelope["sign"] = sig
	envelope["sign_type"] = string(signing.SignTypeRSA)
	return envelope, nil
}

// PreOrderEnvelope validates the order and builds the signed pre-order
// envelope. Mandate orders additionally carry the contract number.
func (c *Composer) PreOrderEnvelope(ord OrderRequest, mandate bool) (map[string]any, error) {
	if err := c.validate(ord, mandate); err != nil {
		return nil, err
	}
	biz := map[string]any{
		"appid":          c.appID,
		"merch_code":     c.merchCode,
		"merch_order_id": ord.MerchOrderID,
		"title":          ord.Title,
		"total_amount":   ord.Amount,
		"trans_currency": currencyOrDefault(ord.Currency),
		"trade_type":     "Checkout",
		"notify_url":     c.notifyURL,
	}
	if mandate {
		biz["contract_no"] = ord.ContractNo
		biz["trade_type"] = "Mandate"
	}
	return c.Envelope(MethodPreOrder, biz)
}

// AuthTokenEnvelope builds the signed envelope used to verify an end-user
// auth token with the gateway.
func (c *Composer) AuthTokenEnvelope(accessToken string) (map[string]any, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, &ValidationError{Violations: []string{"access token required"}}
	}
	biz := map[string]any{
		"appid":        c.appID,
		"access_token": accessToken,
	}
	return c.Envelope(MethodAuthToken, biz)
}

// RawRequest builds the second, smaller signed envelope handed back to the
// end-user client for payment confirmation. The rendered field order is
// mandated by the client SDK and is not re-sorted.
func (c *Composer) RawRequest(prepayID string) (string, error) {
	if strings.TrimSpace(prepayID) == "" {
		return "", &ValidationError{Violations: []string{"prepay id required"}}
	}
	fields := map[string]any{
		"appid":      c.appID,
		"merch_code": c.merchCode,
		"nonce_str":  c.nonceFn(signing.DefaultNonceLength),
		"prepay_id":  prepayID,
		"timestamp":  c.timestamp(),
	}
	canonical, err := signing.Canonicalize(fields)
	if err != nil {
		return "", err
	}
	sig, err := signing.Sign(canonical, c.key)
	if err != nil {
		return "", err
	}
	ordered := []string{"appid", "merch_code", "nonce_str", "prepay_id", "timestamp"}
	parts := make([]string, 0, len(ordered)+2)
	for _, key := range ordered {
		parts = append(parts, fmt.Sprintf("%s=%v", key, fields[key]))
	}
	parts = append(parts, "sign="+sig, "sign_type="+string(signing.SignTypeRSA))
	return strings.Join(parts, "&"), nil
}

func (c *Composer) validate(ord OrderRequest, mandate bool) error {
	var violations []string
	title := strings.TrimSpace(ord.Title)
	if title == "" {
		violations = append(violations, "title required")
	} else if utf8.RuneCountInString(title) > maxTitleLength {
		violations = append(violations, fmt.Sprintf("title exceeds %d characters", maxTitleLength))
	}
	amount, ok := new(big.Rat).SetString(strings.TrimSpace(ord.Amount))
	if !ok {
		violations = append(violations, fmt.Sprintf("amount is not numeric: %s", ord.Amount))
	} else if amount.Sign() <= 0 {
		violations = append(violations, "amount must be positive")
	} else if amount.Cmp(maxOrderAmount) > 0 {
		violations = append(violations, "amount exceeds upper bound")
	}
	if mandate {
		contract := strings.TrimSpace(ord.ContractNo)
		if contract == "" {
			violations = append(violations, "contract number required")
		} else if utf8.RuneCountInString(contract) > maxContractLength {
			violations = append(violations, fmt.Sprintf("contract number exceeds %d characters", maxContractLength))
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func (c *Composer) timestamp() string {
	return fmt.Sprintf("%d", c.nowFn().Unix())
}

func currencyOrDefault(currency string) string {
	if trimmed := strings.TrimSpace(currency); trimmed != "" {
		return trimmed
	}
	return "ETB"
}
