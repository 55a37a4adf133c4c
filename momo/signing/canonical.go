package signing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidInput indicates the signable request is not a usable field map.
var ErrInvalidInput = errors.New("signable request must be a non-nil field map")

// ErrNoSignableFields indicates nothing remained after exclusion and pruning.
var ErrNoSignableFields = errors.New("no signable fields")

// BizContentField is the nested payload carrying the actual transaction
// fields. Its immediate children are signed as if they were top-level fields.
const BizContentField = "biz_content"

// excludedFields never participate in the canonical string, whether they
// appear at the top level or inside biz_content.
var excludedFields = map[string]struct{}{
	"sign":        {},
	"sign_type":   {},
	"header":      {},
	"refund_info": {},
	"openType":    {},
	"raw_request": {},
}

// Canonicalize renders the deterministic key=value&... string the gateway
// signs and verifies against. biz_content is flattened exactly one level:
// its immediate children are promoted to the top level, while anything
// nested deeper is serialized as a single JSON value. Fields with a nil
// value are dropped; empty strings are retained. Remaining keys are sorted
// by byte value.
func Canonicalize(fields map[string]any) (string, error) {
	if fields == nil {
		return "", ErrInvalidInput
	}
	signable := make(map[string]any, len(fields))
	for key, value := range fields {
		if value == nil {
			continue
		}
		signable[key] = value
	}
	if raw, ok := signable[BizContentField]; ok {
		delete(signable, BizContentField)
		content, ok := raw.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: %s must be an object", ErrInvalidInput, BizContentField)
		}
		for key, value := range content {
			if value == nil {
				continue
			}
			if _, excluded := excludedFields[key]; excluded {
				continue
			}
			signable[key] = value
		}
	}
	for key := range excludedFields {
		delete(signable, key)
	}
	if len(signable) == 0 {
		return "", ErrNoSignableFields
	}
	keys := make([]string, 0, len(signable))
	for key := range signable {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		rendered, err := renderValue(signable[key])
		if err != nil {
			return "", err
		}
		pairs = append(pairs, key+"="+rendered)
	}
	return strings.Join(pairs, "&"), nil
}

// renderValue coerces a field value to its canonical string form. Object and
// array values are rendered with encoding/json, which emits map keys in
// sorted order; that ordering is the pinned, gateway-compatible serialization
// for nested values.
func renderValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: unserializable value: %v", ErrInvalidInput, err)
		}
		return string(encoded), nil
	}
}

// Excluded reports whether the field never participates in signing.
func Excluded(field string) bool {
	_, ok := excludedFields[field]
	return ok
}
