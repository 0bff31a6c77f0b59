package arbcost

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestRoutingCost(t *testing.T) {
	assert.Equal(t, int64(15), RoutingCost(10, 5))
	assert.Equal(t, int64(14), RoutingCost(14, 0))
}

func TestActualSats_Table(t *testing.T) {
	tests := []struct {
		name                   string
		it, ot, ir, or_, bf    int64
		want                   float64
	}{
		{"scenario-2 from spec", 100, 200, 10, 30, 0, 7.00},
		{"fractional below one preserved", 1, 0, 1, 0, 0, 0.001},
		{"zero usage still charges base fee", 0, 0, 5, 5, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ActualSats(tt.it, tt.ot, tt.ir, tt.or_, tt.bf)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

// Cost precision property from spec §8: for all non-negative integer
// inputs, ActualSats equals the formula exactly (to float64 precision)
// and never silently rounds a fractional result to zero.
func TestActualSats_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("matches formula exactly", prop.ForAll(
		func(it, ot, ir, or_, bf int64) bool {
			got := ActualSats(it, ot, ir, or_, bf)
			want := (float64(it)*float64(ir)+float64(ot)*float64(or_))/1000.0 + float64(bf)
			return got == want
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 10_000),
		gen.Int64Range(0, 10_000),
		gen.Int64Range(0, 10_000),
	))

	properties.Property("nonzero weighted tokens never round to exact zero", prop.ForAll(
		func(ir int64) bool {
			got := ActualSats(1, 0, ir, 0, 0)
			if ir == 0 {
				return got == 0
			}
			return got > 0
		},
		gen.Int64Range(1, 100),
	))

	properties.TestingRun(t)
}
