// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PayloadLimits bounds the structural checks applied to incoming payloads.
// Zero values fall back to the defaults.
type PayloadLimits struct {
	MaxDepth        int // Maximum object/array nesting depth (default 5)
	MaxStringLength int // Maximum length of any string value in runes (default 10000)
	MaxPayloadBytes int // Maximum serialized payload size in bytes (default 1 MiB)
}

// DefaultPayloadLimits returns the default structural limits.
func DefaultPayloadLimits() PayloadLimits {
	return PayloadLimits{
		MaxDepth:        5,
		MaxStringLength: 10_000,
		MaxPayloadBytes: 1 << 20,
	}
}

func (l PayloadLimits) withDefaults() PayloadLimits {
	d := DefaultPayloadLimits()
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = d.MaxPayloadBytes
	}
	return l
}

// ValidationResult reports the outcome of a structural payload check.
type ValidationResult struct {
	IsValid  bool
	Error    string
	TooLarge bool // Size cap exceeded; maps to HTTP 413 rather than 400
}

// dangerousKeys are object keys that enable prototype-pollution style attacks
// when the payload is later handed to a JS runtime. Their presence anywhere in
// the object graph rejects the whole payload.
var dangerousKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

type walkItem struct {
	node  any
	depth int
}

// ValidatePayload performs structural guards on an incoming sync payload:
// nesting depth, string lengths, total size and dangerous keys. It never
// panics; malformed input yields an invalid result.
//
// The traversal uses an explicit worklist instead of recursion so stack depth
// stays bounded regardless of input shape.
func ValidatePayload(raw []byte, limits PayloadLimits) ValidationResult {
	limits = limits.withDefaults()

	if len(raw) > limits.MaxPayloadBytes {
		return ValidationResult{
			Error:    fmt.Sprintf("payload size %d exceeds maximum %d bytes", len(raw), limits.MaxPayloadBytes),
			TooLarge: true,
		}
	}

	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return ValidationResult{Error: "malformed JSON payload"}
	}

	stack := []walkItem{{node: root, depth: 1}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch v := item.node.(type) {
		case map[string]any:
			if item.depth > limits.MaxDepth {
				return ValidationResult{Error: fmt.Sprintf("object nesting depth exceeds maximum %d", limits.MaxDepth)}
			}
			for key, child := range v {
				if dangerousKeys[key] {
					return ValidationResult{Error: "potentially malicious payload"}
				}
				stack = append(stack, walkItem{node: child, depth: item.depth + 1})
			}
		case []any:
			if item.depth > limits.MaxDepth {
				return ValidationResult{Error: fmt.Sprintf("object nesting depth exceeds maximum %d", limits.MaxDepth)}
			}
			for _, child := range v {
				stack = append(stack, walkItem{node: child, depth: item.depth + 1})
			}
		case string:
			if len([]rune(v)) > limits.MaxStringLength {
				return ValidationResult{Error: fmt.Sprintf("string field exceeds maximum length %d", limits.MaxStringLength)}
			}
		}
	}

	return ValidationResult{IsValid: true}
}

// SanitizeDate parses a date supplied by a client and normalizes it to
// YYYY-MM-DD. Both plain dates and RFC 3339 timestamps are accepted since
// mobile clients have historically sent either.
func SanitizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty date", ErrValidation)
	}
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Format(DateLayout), nil
	}
	return "", fmt.Errorf("%w: invalid date %q", ErrValidation, value)
}

// SanitizeTripDates normalizes a trip's departure and return dates and
// enforces the returnDate >= departureDate domain rule.
func SanitizeTripDates(departure, ret string) (string, string, error) {
	dep, err := SanitizeDate(departure)
	if err != nil {
		return "", "", err
	}
	r, err := SanitizeDate(ret)
	if err != nil {
		return "", "", err
	}
	if r < dep {
		return "", "", fmt.Errorf("%w: returnDate %s before departureDate %s", ErrDateRange, r, dep)
	}
	return dep, r, nil
}
