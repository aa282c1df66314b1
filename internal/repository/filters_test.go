package repository

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageOffset(t *testing.T) {
	cases := []struct {
		name string
		page Page
		want int
	}{
		{"first page", Page{Number: 1, Limit: 50}, 0},
		{"zero page", Page{Number: 0, Limit: 50}, 0},
		{"third page", Page{Number: 3, Limit: 50}, 100},
		{"no limit", Page{Number: 4, Limit: 0}, 0},
		{"huge page saturates", Page{Number: math.MaxInt, Limit: 50}, MaxOffset},
		{"just past the bound", Page{Number: MaxOffset/50 + 2, Limit: 50}, MaxOffset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.page.Offset())
		})
	}
}
