package resilience

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyintel/internal/domain"
)

func TestQualityGate(t *testing.T) {
	g := DefaultQualityGate()
	tests := []struct {
		name string
		text string
		ok   bool
	}{
		{"good", "Port congestion in Rotterdam raises lead times by four days.", true},
		{"too short", "  ok  ", false},
		{"too long", strings.Repeat("abcdefghij ", 5001), false},
		{"insert marker", "Our supplier [INSERT NAME] is at risk of delay.", false},
		{"lorem", "Lorem ipsum dolor sit amet, consectetur.", false},
		{"template braces", "Hello {{customer}}, your order is late.", false},
		{"placeholder tag", "Summary: <placeholder> will be ready soon.", false},
		{"todo marker", "TODO: write the risk summary here please.", false},
		{"lowercase todo is prose", "Our todo list for suppliers is short and complete.", true},
		{"repetition", strings.Repeat("risk ", 15) + "one two three four five six seven eight", false},
		{"short repetition ignored", "risk risk risk risk risk", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Check(tt.text)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrQualityRejected)
		})
	}
}

func TestFallbackTextPassesQualityGate(t *testing.T) {
	assert.NoError(t, DefaultQualityGate().Check(FallbackText()))
}
