package message

import (
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

const AckStatusReceived = "received"

// CounterUpdate carries the sender's SyncValue, {"counter": n}.
type CounterUpdate struct {
	Counter int64 `json:"counter" msgpack:"counter" mapstructure:"counter"`
}

// CounterAck is the fixed reply to a CounterUpdate, {"status": "received"}.
type CounterAck struct {
	Status string `json:"status" msgpack:"status" mapstructure:"status"`
}

func NewCounterAck() *CounterAck {
	return &CounterAck{
		Status: AckStatusReceived,
	}
}

// ToMap renders a message variant into its dictionary form.
func ToMap(v any) (map[string]any, error) {
	out := make(map[string]any)
	err := mapstructure.Decode(v, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err.Error())
	}
	return out, nil
}

// DecodeCounterUpdate parses {"counter": n}. A missing counter, a
// non-integral number or a value of another type is rejected.
func DecodeCounterUpdate(args any) (*CounterUpdate, error) {
	if args == nil {
		return nil, fmt.Errorf("%w: nil arguments", ErrMalformed)
	}
	if m, ok := args.(map[string]any); ok && m["counter"] == nil {
		return nil, fmt.Errorf("%w: missing counter", ErrMalformed)
	}

	u := &CounterUpdate{}
	err := decodeStrict(args, u)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// DecodeCounterAck parses {"status": "received"}.
func DecodeCounterAck(args any) (*CounterAck, error) {
	if args == nil {
		return nil, fmt.Errorf("%w: nil arguments", ErrMalformed)
	}

	a := &CounterAck{}
	err := decodeStrict(args, a)
	if err != nil {
		return nil, err
	}
	if a.Status != AckStatusReceived {
		return nil, fmt.Errorf("%w: unexpected status=%q", ErrMalformed, a.Status)
	}
	return a, nil
}

func decodeStrict(args any, out any) error {
	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook:       integralHook,
			ErrorUnset:       true,
			WeaklyTypedInput: false,
			Result:           out,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformed, err.Error())
	}

	err = decoder.Decode(args)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformed, err.Error())
	}
	return nil
}

// integralHook refuses lossy conversions into int64 fields.
func integralHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.Int64 {
		return data, nil
	}

	switch from.Kind() {
	case reflect.Float32, reflect.Float64:
		f := reflect.ValueOf(data).Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("non-integral value %v", data)
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, fmt.Errorf("value %v overflows int64", data)
		}
	case reflect.Uint, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := reflect.ValueOf(data).Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", u)
		}
	}
	return data, nil
}
