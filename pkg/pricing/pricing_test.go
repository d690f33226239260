package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesToGB(t *testing.T) {
	assert.Equal(t, 1.0, BytesToGB(1024*1024*1024))
	assert.Equal(t, 0.0, BytesToGB(0))
	assert.InDelta(t, 0.5, BytesToGB(512*1024*1024), 1e-9)
}

func TestSavings(t *testing.T) {
	calc := NewCalculator(0.02, "USD")

	tenGB := int64(10 * 1024 * 1024 * 1024)
	assert.InDelta(t, 0.2, calc.MonthlySavings(tenGB), 1e-9)
	assert.InDelta(t, 2.4, calc.AnnualSavings(tenGB), 1e-9)
	assert.Equal(t, 0.0, calc.MonthlySavings(0))
}
