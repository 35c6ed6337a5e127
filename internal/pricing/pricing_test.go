package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"hello", 1},
		{"world", 1},
		{"you are a helpful assistant", 6},
		{"What is the capital of France?", 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "text %q", tt.text)
	}
}

func TestEstimateValueTokens(t *testing.T) {
	// The chat fixture from the collector: two messages, 6 + 1 tokens.
	segments := []string{"you are a helpful assistant", "hello"}
	assert.Equal(t, 7, EstimateValueTokens(segments))
}

func TestCostGPT35Turbo(t *testing.T) {
	table := NewTable()
	cost := table.Cost("openai", "gpt-3.5-turbo", 7, 1)
	require.NotNil(t, cost)

	// 7 * 0.0000015 + 1 * 0.000002 = 0.0000125, exactly.
	f, err := cost.Float64()
	require.NoError(t, err)
	assert.InDelta(t, 0.0000125, f, 1e-12)
	assert.Equal(t, "0.0000125", cost.Text('f'))
}

func TestCostUnknownModel(t *testing.T) {
	table := NewTable()
	assert.Nil(t, table.Cost("openai", "totally-unknown", 10, 10))
}

func TestLookupSnapshotSuffix(t *testing.T) {
	table := NewTable()
	p, ok := table.Lookup("openai", "gpt-3.5-turbo-0613")
	require.True(t, ok)
	assert.Equal(t, "0.0000015", p.PromptPerToken.Text('f'))

	// gpt-4-32k must not resolve to the shorter gpt-4 prefix.
	p, ok = table.Lookup("openai", "gpt-4-32k-0613")
	require.True(t, ok)
	assert.Equal(t, "0.00006", p.PromptPerToken.Text('f'))
}
