package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant_Delay(t *testing.T) {
	c := NewConstant(5 * time.Second)
	for _, n := range []int{1, 2, 10, 100} {
		assert.Equal(t, 5*time.Second, c.Delay(n))
	}
}

func TestLinear_Delay(t *testing.T) {
	l := NewLinear(time.Second, 5*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{3, 3 * time.Second},
		{5, 5 * time.Second},
		{9, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_Delay(t *testing.T) {
	e := NewExponential(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{500, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestStrategies_AreMonotonic(t *testing.T) {
	strategies := map[string]Strategy{
		"constant":    NewConstant(time.Second),
		"linear":      NewLinear(time.Second, time.Hour),
		"exponential": NewExponential(time.Second, time.Hour),
		"uncapped":    NewExponential(time.Second, 0),
		"default":     DefaultStrategy(),
	}

	for name, s := range strategies {
		t.Run(name, func(t *testing.T) {
			prev := s.Delay(1)
			for n := 2; n <= 200; n++ {
				d := s.Delay(n)
				assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
				prev = d
			}
		})
	}
}
