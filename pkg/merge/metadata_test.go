package merge_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/merge"
	"github.com/Ramsey-B/clover/pkg/models"
)

func TestShouldReplace(t *testing.T) {
	policy := merge.DefaultPolicy()

	tests := []struct {
		name     string
		stored   string
		incoming string
		expected bool
	}{
		{
			name:     "empty incoming never replaces",
			stored:   "A perfectly good name",
			incoming: "",
			expected: false,
		},
		{
			name:     "whitespace incoming never replaces",
			stored:   "A perfectly good name",
			incoming: "   ",
			expected: false,
		},
		{
			name:     "empty stored always replaced",
			stored:   "",
			incoming: "Anything",
			expected: true,
		},
		{
			name:     "short stored replaced by longer value",
			stored:   "USB-C",
			incoming: "USB-C Charging Cable 2m",
			expected: true,
		},
		{
			name:     "placeholder stored replaced",
			stored:   "Unknown Product",
			incoming: "Wireless Earbuds Pro",
			expected: true,
		},
		{
			name:     "placeholder not replaced by placeholder",
			stored:   "N/A",
			incoming: "none",
			expected: false,
		},
		{
			name:     "richer incoming above margin replaces",
			stored:   "Good wireless earbuds",
			incoming: "Good wireless earbuds with active noise cancellation and a charging case",
			expected: true,
		},
		{
			name:     "marginally longer incoming kept out",
			stored:   "Good wireless earbuds",
			incoming: "Good wireless earbuds v2",
			expected: false,
		},
		{
			name:     "identical values are a no-op",
			stored:   "Good wireless earbuds",
			incoming: "Good wireless earbuds",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.ShouldReplace(tt.stored, tt.incoming))
		})
	}
}

func TestApply(t *testing.T) {
	policy := merge.DefaultPolicy()

	t.Run("nil metadata is a no-op", func(t *testing.T) {
		product := &models.Product{Name: "Keep Me Around"}

		result := policy.Apply(product, nil)

		assert.False(t, result.Changed)
		assert.Equal(t, "Keep Me Around", product.Name)
	})

	t.Run("fills absent fields without touching rich ones", func(t *testing.T) {
		product := &models.Product{
			Name:        "Wireless Earbuds Pro with Charging Case",
			Description: "",
			Brand:       "-",
		}

		result := policy.Apply(product, &models.ProductMetadata{
			Name:        "Earbuds",
			Description: "Bluetooth 5.3 earbuds with 30 hour battery life",
			Brand:       "SoundCore",
			Category:    "Electronics",
		})

		require.True(t, result.Changed)
		assert.Equal(t, "Wireless Earbuds Pro with Charging Case", product.Name)
		assert.Equal(t, "Bluetooth 5.3 earbuds with 30 hour battery life", product.Description)
		assert.Equal(t, "SoundCore", product.Brand)
		assert.Equal(t, "Electronics", product.Category)
	})

	t.Run("repeat submission of same metadata changes nothing", func(t *testing.T) {
		meta := &models.ProductMetadata{
			Name:        "Wireless Earbuds Pro",
			Description: "Bluetooth 5.3 earbuds with 30 hour battery life",
			Brand:       "SoundCore",
		}
		product := &models.Product{}

		first := policy.Apply(product, meta)
		require.True(t, first.Changed)

		second := policy.Apply(product, meta)
		assert.False(t, second.Changed)
	})

	t.Run("extra json only set when absent", func(t *testing.T) {
		product := &models.Product{
			Name:     "Wireless Earbuds Pro",
			Metadata: json.RawMessage(`{"color":"black"}`),
		}

		result := policy.Apply(product, &models.ProductMetadata{
			Extra: json.RawMessage(`{"color":"white"}`),
		})

		assert.False(t, result.Changed)
		assert.JSONEq(t, `{"color":"black"}`, string(product.Metadata))
	})
}
