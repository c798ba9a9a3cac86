package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatios_Split(t *testing.T) {
	b := DefaultRatios().Split(4000)
	assert.Equal(t, 2000, b.History)
	assert.Equal(t, 2000, b.Response)
	assert.Equal(t, 1000, b.MemoryContext)
}

func TestRatios_SplitTruncates(t *testing.T) {
	b := Ratios{History: 0.5, Response: 0.5, MemoryContext: 0.25}.Split(9)
	assert.Equal(t, 4, b.History)
	assert.Equal(t, 4, b.Response)
	assert.Equal(t, 2, b.MemoryContext)
}

func TestRatios_SplitNonPositiveTotal(t *testing.T) {
	assert.Equal(t, Budget{}, DefaultRatios().Split(0))
	assert.Equal(t, Budget{}, DefaultRatios().Split(-100))
}

func TestRatios_CustomRatios(t *testing.T) {
	b := Ratios{History: 0.7, Response: 0.3, MemoryContext: 0.1}.Split(1000)
	assert.Equal(t, 700, b.History)
	assert.Equal(t, 300, b.Response)
	assert.Equal(t, 100, b.MemoryContext)
}
