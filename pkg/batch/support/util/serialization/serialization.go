// Package serialization provides the JSON helpers shared by the task registry,
// progress tracker and run history: secret masking, canonical encoding for
// configuration hashes, and tolerant parameter (un)marshalling.
package serialization

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"

	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const (
	moduleName = "serialization"
	maskValue  = "********"
)

// GetMaskedParametersMap returns a copy of params with the configured secret keys masked.
// Nested objects are masked recursively.
func GetMaskedParametersMap(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}
	return maskMap(params, config.GetMaskedParameterKeys())
}

func maskMap(params map[string]interface{}, keys []string) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		if isMaskedKey(k, keys) {
			masked[k] = maskValue
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			masked[k] = maskMap(nested, keys)
			continue
		}
		masked[k] = v
	}
	return masked
}

func isMaskedKey(key string, keys []string) bool {
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// MaskSecret keeps a short prefix of secret for log correlation.
func MaskSecret(secret string) string {
	if len(secret) <= 6 {
		return maskValue
	}
	return secret[:6] + "..."
}

// ToMap converts v to a generic JSON object.
func ToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to marshal value", err, false, false)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, exception.NewBatchError(moduleName, "value is not a JSON object", err, false, false)
	}
	return out, nil
}

// CanonicalJSON encodes v with object keys sorted at every depth, so equal
// values always produce identical bytes regardless of struct field order.
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to marshal value", err, false, false)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to decode value", err, false, false)
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}

// MD5Hex returns the lowercase hex md5 digest of data.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// HashCanonical returns MD5Hex of the canonical JSON encoding of v.
func HashCanonical(v interface{}) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return MD5Hex(data), nil
}

// MarshalParameters serializes params with secrets masked. A nil or empty map
// becomes "{}".
func MarshalParameters(params map[string]interface{}) ([]byte, error) {
	masked := GetMaskedParametersMap(params)
	if len(masked) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(masked)
	if err != nil {
		logger.Errorf("Failed to serialize parameters: %v", err)
		return nil, exception.NewBatchError(moduleName, "failed to serialize parameters", err, false, false)
	}
	return data, nil
}

// UnmarshalParameters deserializes data into params, replacing its contents.
func UnmarshalParameters(data []byte, params *map[string]interface{}) error {
	*params = make(map[string]interface{})
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, params); err != nil {
		logger.Errorf("Failed to deserialize parameters: %v", err)
		return exception.NewBatchError(moduleName, "failed to deserialize parameters", err, false, false)
	}
	return nil
}
