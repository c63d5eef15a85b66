package enums

import (
	"fmt"
	"strings"
)

type ShippingMethod string

const (
	ShippingMethodStandard ShippingMethod = "standard"
	ShippingMethodExpress  ShippingMethod = "express"
)

var validShippingMethods = []ShippingMethod{
	ShippingMethodStandard,
	ShippingMethodExpress,
}

func (s ShippingMethod) String() string {
	return string(s)
}

func (s ShippingMethod) IsValid() bool {
	for _, candidate := range validShippingMethods {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseShippingMethod(value string) (ShippingMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validShippingMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipping method %q", value)
}
