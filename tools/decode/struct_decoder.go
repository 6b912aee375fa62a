package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// WeaklyTypedInput lets "123" decode into an int64 and 1 into a string.
	WeaklyTypedInput bool
	// Hooks run before the built-in ones.
	Hooks []mapstructure.DecodeHookFunc
}

func DefaultOptions() Options {
	return Options{WeaklyTypedInput: true}
}

// Decode maps a generic JSON object (as produced by a json.Decoder with
// UseNumber) onto T. Fields are matched by their `mapstructure` tag.
func Decode[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("object is nil")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	hooks := append([]mapstructure.DecodeHookFunc{}, cfg.Hooks...)
	hooks = append(hooks,
		jsonRawStringToSliceHook(),
		jsonRawStringToMapHook(),
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(hooks...),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return &out, nil
}

// ReadInt64 reads an integer field, accepting JSON numbers, float64 and
// numeric strings.
func ReadInt64(m map[string]any, key string) (int64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing field %q", key)
	}
	return ToInt64(v)
}

// ToInt64 converts a loosely typed scalar to int64.
func ToInt64(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%v is not an integer", t)
		}
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse int64: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("type %T not number", v)
	}
}

// UnmarshalObject parses raw into a generic object keeping numbers as
// json.Number.
func UnmarshalObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after object")
	}
	if m == nil {
		return nil, fmt.Errorf("not an object")
	}
	return m, nil
}

// jsonRawStringToSliceHook: some clients send arrays JSON-encoded inside a
// string field.
func jsonRawStringToSliceHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Slice {
			return data, nil
		}
		s := strings.TrimSpace(reflect.ValueOf(data).String())
		if !strings.HasPrefix(s, "[") {
			return data, nil
		}
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var out []any
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode embedded array: %w", err)
		}
		return out, nil
	}
}

// jsonRawStringToMapHook：把 JSON 字符串自动转为 map[string]any。
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		s := strings.TrimSpace(reflect.ValueOf(data).String())
		if !strings.HasPrefix(s, "{") {
			return data, nil
		}
		m, err := UnmarshalObject([]byte(s))
		if err != nil {
			return data, nil
		}
		return m, nil
	}
}
