package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type slot uint32

func (s slot) String() string { return "ota_" + string(rune('0'+s)) }

func TestToFields(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		input []any
		keys  []string
		types []zapcore.FieldType
	}{
		{"empty", nil, nil, nil},
		{
			name:  "typed pairs",
			input: []any{"sequence", uint32(3), "accepted", true, "delay", time.Second},
			keys:  []string{"sequence", "accepted", "delay"},
			types: []zapcore.FieldType{zapcore.Uint32Type, zapcore.BoolType, zapcore.DurationType},
		},
		{
			name:  "stringer is lazy",
			input: []any{"slot", slot(1)},
			keys:  []string{"slot"},
			types: []zapcore.FieldType{zapcore.StringerType},
		},
		{
			name:  "bare error and field pass through",
			input: []any{boom, zap.String("x", "y"), "n", 1},
			keys:  []string{"error", "x", "n"},
			types: []zapcore.FieldType{zapcore.ErrorType, zapcore.StringType, zapcore.Int64Type},
		},
		{
			name:  "dangling value",
			input: []any{"key1", "val1", "key2"},
			keys:  []string{"key1", "arg#2"},
		},
		{
			name:  "non-string key",
			input: []any{123, "value"},
			keys:  []string{"invalid_key_1"},
		},
		{
			name:  "nil values",
			input: []any{"a", nil, "b", (*int)(nil)},
			keys:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			keys := make([]string, 0, len(fields))
			for _, f := range fields {
				keys = append(keys, f.Key)
			}
			assert.Equal(t, len(tt.keys), len(keys))
			if len(tt.keys) > 0 {
				assert.Equal(t, tt.keys, keys)
			}
			for i, typ := range tt.types {
				assert.Equal(t, typ, fields[i].Type, "field %s", fields[i].Key)
			}
		})
	}
}
