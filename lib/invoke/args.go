// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package invoke

import (
	"context"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero/api"

	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/service"
	"github.com/bureau-foundation/defang/lib/target"
)

// lowerArgs converts one call site's arguments to the method's
// parameters. Scalars fill one parameter each. Buffers (strings, byte
// slices, and wire strings) fill two i32 parameters, address then
// length, and are copied into the instance through its alloc export;
// text lengths count UTF-16 code units, byte lengths count bytes.
func lowerArgs(ctx context.Context, runtime *target.Runtime, instance api.Module, method *target.Method, args []any) ([]uint64, error) {
	params := method.Params
	lowered := make([]uint64, 0, len(params))

	for i, arg := range args {
		position := len(lowered)
		if position >= len(params) {
			return nil, service.Usagef("%s takes %d parameters, got more arguments than fit", method.Name, len(params))
		}

		buffer, length, isBuffer, err := bufferOf(arg)
		if err != nil {
			return nil, service.Usagef("argument %d: %v", i, err)
		}
		if isBuffer {
			if position+1 >= len(params) ||
				params[position] != api.ValueTypeI32 || params[position+1] != api.ValueTypeI32 {
				return nil, service.Usagef("argument %d is a buffer, but %s has no (i32, i32) parameter pair at %d",
					i, method.Name, position)
			}
			pointer, err := runtime.Allocate(ctx, instance, buffer)
			if err != nil {
				return nil, err
			}
			lowered = append(lowered, api.EncodeU32(pointer), api.EncodeU32(length))
			continue
		}

		value, err := lowerScalar(arg, params[position])
		if err != nil {
			return nil, service.Usagef("argument %d: %v", i, err)
		}
		lowered = append(lowered, value)
	}

	if len(lowered) != len(params) {
		return nil, service.Usagef("%s takes %d parameters, arguments fill %d", method.Name, len(params), len(lowered))
	}
	return lowered, nil
}

// bufferOf reports whether arg is passed by address, and if so its
// bytes and the length the routine receives.
func bufferOf(arg any) (data []byte, length uint32, ok bool, err error) {
	switch value := arg.(type) {
	case string:
		units := ipc.NewWireString(value)
		return units.Bytes(), uint32(len(units)), true, nil
	case ipc.WireString:
		return value.Bytes(), uint32(len(value)), true, nil
	case []byte:
		return value, uint32(len(value)), true, nil
	case cbor.Tag:
		units, recognized, err := ipc.WireStringFromValue(value)
		if err != nil {
			return nil, 0, false, err
		}
		if !recognized {
			return nil, 0, false, errorf("unsupported tagged value (tag %d)", value.Number)
		}
		return units.Bytes(), uint32(len(units)), true, nil
	default:
		return nil, 0, false, nil
	}
}

// lowerScalar encodes value as a parameter of type valueType.
func lowerScalar(value any, valueType api.ValueType) (uint64, error) {
	switch valueType {
	case api.ValueTypeI32:
		unsigned, signed, negative, err := integerOf(value)
		if err != nil {
			return 0, err
		}
		if negative {
			if signed < math.MinInt32 {
				return 0, errorf("%d does not fit i32", signed)
			}
			return api.EncodeI32(int32(signed)), nil
		}
		if unsigned > math.MaxUint32 {
			return 0, errorf("%d does not fit i32", unsigned)
		}
		return api.EncodeU32(uint32(unsigned)), nil

	case api.ValueTypeI64:
		unsigned, signed, negative, err := integerOf(value)
		if err != nil {
			return 0, err
		}
		if negative {
			return api.EncodeI64(signed), nil
		}
		return unsigned, nil

	case api.ValueTypeF32:
		float, err := floatOf(value)
		if err != nil {
			return 0, err
		}
		return api.EncodeF32(float32(float)), nil

	case api.ValueTypeF64:
		float, err := floatOf(value)
		if err != nil {
			return 0, err
		}
		return api.EncodeF64(float), nil

	default:
		return 0, errorf("parameter type %s cannot be passed", api.ValueTypeName(valueType))
	}
}

// integerOf normalizes an integral value. Non-negative values come
// back in unsigned, negative ones in signed.
func integerOf(value any) (unsigned uint64, signed int64, negative bool, err error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, 0, false, nil
		}
		return 0, 0, false, nil
	case int:
		return fromSigned(int64(v))
	case int8:
		return fromSigned(int64(v))
	case int16:
		return fromSigned(int64(v))
	case int32:
		return fromSigned(int64(v))
	case int64:
		return fromSigned(v)
	case uint:
		return uint64(v), 0, false, nil
	case uint8:
		return uint64(v), 0, false, nil
	case uint16:
		return uint64(v), 0, false, nil
	case uint32:
		return uint64(v), 0, false, nil
	case uint64:
		return v, 0, false, nil
	case float32:
		return fromFloat(float64(v))
	case float64:
		return fromFloat(v)
	case nil:
		return 0, 0, false, errorf("null cannot be passed as an integer")
	default:
		return 0, 0, false, errorf("%T cannot be passed as an integer", value)
	}
}

func fromSigned(v int64) (uint64, int64, bool, error) {
	if v < 0 {
		return 0, v, true, nil
	}
	return uint64(v), 0, false, nil
}

func fromFloat(v float64) (uint64, int64, bool, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, 0, false, errorf("%v is not integral", v)
	}
	if v < 0 {
		if v < math.MinInt64 {
			return 0, 0, false, errorf("%v is out of range", v)
		}
		return 0, int64(v), true, nil
	}
	if v >= math.MaxUint64 {
		return 0, 0, false, errorf("%v is out of range", v)
	}
	return uint64(v), 0, false, nil
}

func floatOf(value any) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	unsigned, signed, negative, err := integerOf(value)
	if err != nil {
		return 0, err
	}
	if negative {
		return float64(signed), nil
	}
	return float64(unsigned), nil
}
