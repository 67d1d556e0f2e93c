package sensor

import (
	"encoding/json"
	"testing"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		want   float64
		wantOK bool
	}{
		{"decimal comma with unit", "23,6 °C", 23.6, true},
		{"plain decimal", "23.6", 23.6, true},
		{"exponent with junk", "  7.0e1x", 70, true},
		{"negative", "-2,5", -2.5, true},
		{"explicit plus", "+4", 4, true},
		{"surrounding whitespace", "\t 12 \n", 12, true},
		{"later commas dropped", "1,5,0", 1.5, true},
		{"letters only", "abc", 0, false},
		{"nil", nil, 0, false},
		{"empty", "", 0, false},
		{"blank", "   ", 0, false},
		{"NaN text", "NaN", 0, false},
		{"Infinity text", "Infinity", 0, false},
		{"overflow", "1e400", 0, false},
		{"json number", json.Number("19.25"), 19.25, true},
		{"float64", 21.5, 21.5, true},
		{"int", 3, 3, true},
		{"zero", "0", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseValue(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ParseValue(%#v) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseValue(%#v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func BenchmarkParseValue(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseValue("23,6 °C")
	}
}
