package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBasename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "screen.PNG", want: "screen.png"},
		{in: "  uploads/2026/Screen.png ", want: "screen.png"},
		{in: `C:\Users\ops\BMS_01.jpg`, want: "bms_01.jpg"},
		{in: "dir/", want: "dir"},
		{in: "", want: ""},
		{in: "/", want: ""},
		{in: " . ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBasename(tt.in))
		})
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash("Cell 4 voltage drifts, high!")
	b := ContentHash("  cell 4   VOLTAGE drifts high ")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, ContentHash("cell 5 voltage drifts high"))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("pack temperature rises at noon", "Pack temperature rises at noon."), 1e-9)
	assert.Zero(t, Similarity("", ""))
	assert.Zero(t, Similarity("alpha beta", "gamma delta"))

	score := Similarity(
		"battery pack temperature rises quickly at noon every day",
		"battery pack temperature rises quickly at noon each day",
	)
	assert.Greater(t, score, 0.5)
	assert.Less(t, score, 1.0)

	assert.InDelta(t, 1.0, Similarity("solo", "SOLO"), 1e-9)
}

func TestJaccard(t *testing.T) {
	a := map[uint64]struct{}{1: {}, 2: {}, 3: {}}
	b := map[uint64]struct{}{2: {}, 3: {}, 4: {}}
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	assert.InDelta(t, 0.5, Jaccard(b, a), 1e-9)
}
