package enums

import "testing"

func TestParsePaymentMethodAliases(t *testing.T) {
	cases := map[string]PaymentMethod{
		"cod":              PaymentMethodCOD,
		"COD":              PaymentMethodCOD,
		"cash_on_delivery": PaymentMethodCOD,
		"momo":             PaymentMethodGateway,
		"gateway":          PaymentMethodGateway,
		" card ":           PaymentMethodCard,
	}
	for input, want := range cases {
		got, err := ParsePaymentMethod(input)
		if err != nil {
			t.Fatalf("ParsePaymentMethod(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParsePaymentMethod(%q) = %q, want %q", input, got, want)
		}
	}
	if _, err := ParsePaymentMethod("bitcoin"); err == nil {
		t.Fatal("expected unknown payment method to fail")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, status := range validOrderStatuses {
		want := status == OrderStatusDelivered || status == OrderStatusCancelled || status == OrderStatusFailed
		if status.IsTerminal() != want {
			t.Fatalf("status %s terminal=%v, want %v", status, status.IsTerminal(), want)
		}
	}
	if _, err := ParseOrderStatus("refunded"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestParseShippingMethodAndCurrency(t *testing.T) {
	if got, err := ParseShippingMethod("Express"); err != nil || got != ShippingMethodExpress {
		t.Fatalf("unexpected shipping method %q err=%v", got, err)
	}
	if got, err := ParseCurrency("vnd"); err != nil || got != CurrencyVND {
		t.Fatalf("unexpected currency %q err=%v", got, err)
	}
	if _, err := ParseCurrency("XYZ"); err == nil {
		t.Fatal("expected unknown currency to fail")
	}
}
