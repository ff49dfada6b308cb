package callback

import (
	"errors"
	"strings"
	"testing"

	"github.com/joao-fontenele/mpesa-checkout/internal/domain"
	"github.com/joao-fontenele/mpesa-checkout/internal/validation"
)

const successBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "tok-1",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 1000},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "TransactionDate", "Value": 20191219102115},
					{"Name": "PhoneNumber", "Value": 254712345678}
				]
			}
		}
	}
}`

const failureBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "tok-1",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user"
		}
	}
}`

func TestParseNotification(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		n, err := ParseNotification([]byte(successBody))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n.CheckoutRequestID != "tok-1" {
			t.Errorf("expected tok-1, got %s", n.CheckoutRequestID)
		}
		ok, isSuccess := n.Outcome.(domain.PaymentSucceeded)
		if !isSuccess {
			t.Fatalf("expected PaymentSucceeded, got %T", n.Outcome)
		}
		if ok.Amount != 1000 || ok.Receipt != "NLJ7RT61SV" || ok.Phone != "254712345678" {
			t.Errorf("unexpected outcome %+v", ok)
		}
		if n.Outcome.TargetStatus() != domain.OrderStatusConfirmed {
			t.Errorf("expected confirmed, got %s", n.Outcome.TargetStatus())
		}
	})

	t.Run("failure", func(t *testing.T) {
		n, err := ParseNotification([]byte(failureBody))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		failed, ok := n.Outcome.(domain.PaymentFailed)
		if !ok {
			t.Fatalf("expected PaymentFailed, got %T", n.Outcome)
		}
		if failed.ResultCode != 1032 || failed.Reason != "Request cancelled by user" {
			t.Errorf("unexpected outcome %+v", failed)
		}
		if n.Outcome.TargetStatus() != domain.OrderStatusFailed {
			t.Errorf("expected failed, got %s", n.Outcome.TargetStatus())
		}
	})

	t.Run("string result code", func(t *testing.T) {
		body := strings.Replace(successBody, `"ResultCode": 0`, `"ResultCode": "0"`, 1)
		n, err := ParseNotification([]byte(body))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := n.Outcome.(domain.PaymentSucceeded); !ok {
			t.Errorf("expected PaymentSucceeded, got %T", n.Outcome)
		}
	})

	t.Run("sanitizes gateway text", func(t *testing.T) {
		body := strings.Replace(successBody, `"NLJ7RT61SV"`, `"<script>NLJ7RT61SV</script>`+strings.Repeat("X", 80)+`"`, 1)
		n, err := ParseNotification([]byte(body))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		receipt := n.Outcome.(domain.PaymentSucceeded).Receipt
		if strings.ContainsAny(receipt, "<>") {
			t.Errorf("expected angle brackets stripped, got %s", receipt)
		}
		if len(receipt) != 50 {
			t.Errorf("expected receipt truncated to 50, got %d", len(receipt))
		}
	})

	malformed := map[string]string{
		"not json":           `{"Body":`,
		"empty object":       `{}`,
		"missing callback":   `{"Body":{}}`,
		"missing token":      strings.Replace(successBody, `"tok-1"`, `""`, 1),
		"missing code":       strings.Replace(failureBody, `"ResultCode": 1032,`, ``, 1),
		"non-numeric code":   strings.Replace(failureBody, `1032`, `"cancelled"`, 1),
		"success no meta":    `{"Body":{"stkCallback":{"CheckoutRequestID":"tok-1","ResultCode":0,"ResultDesc":"ok"}}}`,
		"success no amount":  strings.Replace(successBody, `{"Name": "Amount", "Value": 1000},`, ``, 1),
		"success no receipt": strings.Replace(successBody, `{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},`, ``, 1),
		"success no phone":   strings.Replace(successBody, `"Name": "PhoneNumber"`, `"Name": "Phone"`, 1),
		"fractional amount":  strings.Replace(successBody, `"Value": 1000}`, `"Value": 10.5}`, 1),
		"string amount":      strings.Replace(successBody, `"Value": 1000}`, `"Value": "1000"}`, 1),
	}

	for name, body := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNotification([]byte(body))
			if !errors.Is(err, ErrMalformedCallback) {
				t.Errorf("expected ErrMalformedCallback, got %v", err)
			}
		})
	}
}

func TestParseNotification_TokenMatchesStoredForm(t *testing.T) {
	raw := ` ws_CO_<1>\u0007 `
	body := strings.Replace(failureBody, `"CheckoutRequestID": "tok-1"`, `"CheckoutRequestID": "`+raw+`"`, 1)

	n, err := ParseNotification([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.CheckoutRequestID != "ws_CO_1" {
		t.Errorf("expected ws_CO_1, got %q", n.CheckoutRequestID)
	}
	if want := validation.CheckoutToken(" ws_CO_<1>\x07 "); n.CheckoutRequestID != want {
		t.Errorf("expected %q to equal stored form %q", n.CheckoutRequestID, want)
	}
}
