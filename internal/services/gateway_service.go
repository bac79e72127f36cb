package services

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aloy/roommate-booking/internal/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrInvalidCheckValue means a callback was not signed with our shared secret
var ErrInvalidCheckValue = errors.New("gateway callback check value mismatch")

// GatewayService builds hosted-checkout redirects and verifies gateway
// callbacks. The gateway's own API protocol is out of scope; only the
// redirect contract and the signed callback are handled here.
type GatewayService struct {
	config *config.PaymentConfig
	logger *logrus.Logger
}

// GatewayCallback is the confirmation the gateway posts (form or JSON)
type GatewayCallback struct {
	TransactionID string `json:"tran_id" form:"tran_id"`
	ValidationID  string `json:"val_id" form:"val_id"`
	Status        string `json:"status" form:"status"` // VALID, VALIDATED, SUCCESS, FAILED, CANCELLED
	Amount        string `json:"amount" form:"amount"`
	Currency      string `json:"currency" form:"currency"`
	CheckValue    string `json:"check_value" form:"check_value"`
}

// NewGatewayService creates a new gateway service
func NewGatewayService(cfg *config.PaymentConfig, logger *logrus.Logger) *GatewayService {
	return &GatewayService{
		config: cfg,
		logger: logger,
	}
}

// GenerateCheckValue signs a transaction for the gateway
// Step 1: hash1 = SHA512(callbackSecret) uppercase hex
// Step 2: hash2 = SHA512("storeId|tranId|amount|currency|hash1") uppercase hex
func (s *GatewayService) GenerateCheckValue(transactionID, amount, currency string) string {
	hash1 := sha512.Sum512([]byte(s.config.CallbackSecret))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		s.config.StoreID,
		transactionID,
		amount,
		currency,
		hash1Hex,
	)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// RedirectURL returns where the tenant's browser goes to pay. Without a
// configured gateway the tenant is sent straight to the success page, which
// is how local development completes payments.
func (s *GatewayService) RedirectURL(transactionID string, amount decimal.Decimal, currency string) string {
	amountStr := amount.StringFixed(2)

	if s.config.GatewayURL == "" {
		return withQuery(s.config.SuccessURL, url.Values{"tran_id": {transactionID}})
	}

	params := url.Values{
		"store_id":     {s.config.StoreID},
		"tran_id":      {transactionID},
		"total_amount": {amountStr},
		"currency":     {currency},
		"success_url":  {withQuery(s.config.SuccessURL, url.Values{"tran_id": {transactionID}})},
		"fail_url":     {withQuery(s.config.FailURL, url.Values{"tran_id": {transactionID}})},
		"cancel_url":   {withQuery(s.config.CancelURL, url.Values{"tran_id": {transactionID}})},
	}
	if s.config.CallbackSecret != "" {
		params.Set("check_value", s.GenerateCheckValue(transactionID, amountStr, currency))
	}
	return withQuery(s.config.GatewayURL, params)
}

// VerifyCallback validates a parsed callback. When no secret is configured
// the check value is not enforced.
func (s *GatewayService) VerifyCallback(cb *GatewayCallback) error {
	if NormalizeTransactionID(cb.TransactionID) == "" {
		return fmt.Errorf("callback missing tran_id")
	}

	if s.config.CallbackSecret != "" {
		expected := s.GenerateCheckValue(NormalizeTransactionID(cb.TransactionID), cb.Amount, cb.Currency)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(cb.CheckValue))) != 1 {
			return ErrInvalidCheckValue
		}
	}

	s.logger.WithFields(logrus.Fields{
		"tran_id": cb.TransactionID,
		"val_id":  cb.ValidationID,
		"status":  cb.Status,
		"amount":  cb.Amount,
	}).Info("Gateway callback verified")
	return nil
}

// IsPaymentSuccessful checks if a callback reports a successful payment
func (s *GatewayService) IsPaymentSuccessful(cb *GatewayCallback) bool {
	switch strings.ToUpper(strings.TrimSpace(cb.Status)) {
	case "VALID", "VALIDATED", "SUCCESS":
		return true
	}
	return false
}

// RequiresSignature reports whether callbacks and success redirects must
// carry a valid check value
func (s *GatewayService) RequiresSignature() bool {
	return s.config.CallbackSecret != ""
}

// IsConfigured returns true if a hosted gateway is configured
func (s *GatewayService) IsConfigured() bool {
	return s.config.GatewayURL != "" && s.config.StoreID != ""
}

func withQuery(base string, params url.Values) string {
	if base == "" {
		return "?" + params.Encode()
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
