package callback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

var ErrMalformedCallback = errors.New("malformed callback")

const (
	maxReceiptLength = 50
	maxReasonLength  = 200
	maxPhoneLength   = 20
)

// Notification is a parsed STK callback.
type Notification struct {
	MerchantRequestID string
	CheckoutRequestID string
	Outcome           domain.PaymentOutcome
}

type envelope struct {
	Body *struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []metadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type metadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseNotification decodes a callback body. Anything missing or
// ill-typed yields ErrMalformedCallback; a success without amount,
// receipt and phone is never treated as a success.
func ParseNotification(body []byte) (*Notification, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCallback, err)
	}
	if env.Body == nil || env.Body.STKCallback == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}
	cb := env.Body.STKCallback

	token := validation.CheckoutToken(cb.CheckoutRequestID)
	if token == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}

	code, err := parseResultCode(cb.ResultCode)
	if err != nil {
		return nil, fmt.Errorf("%w: ResultCode: %w", ErrMalformedCallback, err)
	}

	n := &Notification{
		MerchantRequestID: validation.Sanitize(cb.MerchantRequestID, validation.MaxTokenLength),
		CheckoutRequestID: token,
	}
	desc := validation.Sanitize(cb.ResultDesc, maxReasonLength)

	if code != 0 {
		n.Outcome = domain.PaymentFailed{ResultCode: code, Reason: desc}
		return n, nil
	}

	if cb.CallbackMetadata == nil {
		return nil, fmt.Errorf("%w: success without CallbackMetadata", ErrMalformedCallback)
	}
	meta := make(map[string]json.RawMessage, len(cb.CallbackMetadata.Item))
	for _, item := range cb.CallbackMetadata.Item {
		meta[item.Name] = item.Value
	}

	amount, err := metadataAmount(meta["Amount"])
	if err != nil {
		return nil, fmt.Errorf("%w: Amount: %w", ErrMalformedCallback, err)
	}
	receipt, err := metadataString(meta["MpesaReceiptNumber"], maxReceiptLength)
	if err != nil {
		return nil, fmt.Errorf("%w: MpesaReceiptNumber: %w", ErrMalformedCallback, err)
	}
	phone, err := metadataString(meta["PhoneNumber"], maxPhoneLength)
	if err != nil {
		return nil, fmt.Errorf("%w: PhoneNumber: %w", ErrMalformedCallback, err)
	}

	n.Outcome = domain.PaymentSucceeded{
		Receipt: receipt,
		Amount:  amount,
		Phone:   phone,
		Desc:    desc,
	}
	return n, nil
}

// parseResultCode accepts 0, "0" and other integers in either form.
func parseResultCode(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing")
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	} else {
		s = string(raw)
	}
	return strconv.Atoi(s)
}

func metadataAmount(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("invalid amount %v", f)
	}
	return int64(f), nil
}

// metadataString reads a string or number value. Receipt numbers are
// strings; phone numbers arrive as JSON numbers.
func metadataString(raw json.RawMessage, max int) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("missing")
	}
	var v string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		v = n.String()
	}
	v = validation.Sanitize(v, max)
	if v == "" {
		return "", errors.New("empty")
	}
	return v, nil
}
