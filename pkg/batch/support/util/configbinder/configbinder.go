// Package configbinder binds loosely typed maps (YAML fragments, JSON request
// bodies, model parameters) onto tagged structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties binds properties onto target using the "yaml" tag.
// Weakly typed input is accepted, so "10" binds to an int field.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	return bind(properties, target, "yaml")
}

// BindJSON binds a decoded JSON object onto target using the "json" tag.
func BindJSON(properties map[string]interface{}, target interface{}) error {
	return bind(properties, target, "json")
}

// BindStrings binds a flat string map, such as query parameters, onto target.
func BindStrings(props map[string]string, target interface{}) error {
	if len(props) == 0 {
		return nil
	}
	intermediate := make(map[string]interface{}, len(props))
	for k, v := range props {
		intermediate[k] = v
	}
	return bind(intermediate, target, "yaml")
}

func bind(properties map[string]interface{}, target interface{}, tag string) error {
	if len(properties) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          tag,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(properties); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}
