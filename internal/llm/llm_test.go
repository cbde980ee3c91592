package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModelChain(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "defaults",
			cfg:  DefaultConfig(),
			want: []string{"gemini-1.5-flash", "gemini-2.0-flash", "gemini-1.5-flash-8b"},
		},
		{
			name: "primary removed from fallbacks",
			cfg:  Config{Model: "a", FallbackModels: []string{"b", "a", " ", "c"}},
			want: []string{"a", "b", "c"},
		},
		{
			name: "blank primary uses default",
			cfg:  Config{Model: "  ", FallbackModels: []string{"gemini-1.5-flash", "x"}},
			want: []string{"gemini-1.5-flash", "x"},
		},
		{
			name: "no fallbacks",
			cfg:  Config{Model: "solo"},
			want: []string{"solo"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ModelChain())
		})
	}
}

func TestParseModelList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseModelList(" a, ,b ,"))
	assert.Nil(t, ParseModelList(""))
}

func TestCallShapeString(t *testing.T) {
	assert.Equal(t, "positional", CallShapePositional.String())
	assert.Equal(t, "named", CallShapeNamed.String())
	assert.Equal(t, "CallShape(7)", CallShape(7).String())
}

func TestDefaultConfigCopiesFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FallbackModels[0] = "mutated"
	assert.Equal(t, "gemini-2.0-flash", DefaultFallbackModels[0])
}

func TestWorstCaseDuration(t *testing.T) {
	cfg := DefaultConfig()
	// 3 models x (6 calls x 60s + 3s + 6s backoff)
	assert.Equal(t, 3*(6*time.Minute+9*time.Second), cfg.WorstCaseDuration())

	cfg.FallbackModels = nil
	cfg.MaxRetries = 0
	assert.Equal(t, 4*time.Minute, cfg.WorstCaseDuration())

	cfg.CallTimeout = 0
	assert.Zero(t, cfg.WorstCaseDuration())
}
