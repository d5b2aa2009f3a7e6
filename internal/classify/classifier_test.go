package classify

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFromFilename(t *testing.T) {
	c := NewClassifier(nil, discardLogger())

	tests := []struct {
		filename   string
		want       store.Category
		confidence float64
	}{
		{"ATP_SW License_SITE01.pdf", store.CategorySoftware, 0.95},
		{"MW Upgrade JKT-001.pdf", store.CategoryHardware, 0.95},
		{"PLN Power Rectifier.pdf", store.CategoryHardware, 0.95},
		{"Software License and Microwave.pdf", store.CategoryBoth, 0.5},
		{"ATP-001.pdf", store.CategoryHardware, 0.5},
		{"report.pdf", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			r := c.FromFilename(tt.filename)
			assert.Equal(t, tt.want, r.Category)
			assert.InDelta(t, tt.confidence, r.Confidence, 0.001)
			assert.Equal(t, "filename_analysis", r.Method)
			assert.Len(t, r.Scores, len(DefaultFamilies()))
		})
	}
}

func TestFromFilenameRecordsMatches(t *testing.T) {
	c := NewClassifier(nil, nil)
	r := c.FromFilename("pln battery swap")

	var pln FamilyScore
	for _, s := range r.Scores {
		if s.Name == "pln_upgrade" {
			pln = s
		}
	}
	assert.Equal(t, 160.0, pln.Score)
	assert.Equal(t, []string{"pln", "battery"}, pln.Matched)
}

func TestDominantSideWins(t *testing.T) {
	c := NewClassifier(nil, nil)
	// software 450 against hardware 60 is not close enough to be ambiguous
	r := c.FromFilename("sw license upgrade")
	assert.Equal(t, store.CategorySoftware, r.Category)
}

func TestCustomFamilies(t *testing.T) {
	c := NewClassifier([]Family{
		{Name: "fw", Category: store.CategorySoftware, Indicators: []Indicator{{"firmware", 10}}},
	}, nil)
	assert.Equal(t, store.CategorySoftware, c.FromFilename("Firmware.pdf").Category)
	assert.Equal(t, store.Category(""), c.FromFilename("MW.pdf").Category)
}

func TestResolve(t *testing.T) {
	final, ok := Resolve(store.CategoryHardware, "")
	assert.True(t, ok)
	assert.Equal(t, store.CategoryHardware, final)

	final, ok = Resolve(store.CategoryHardware, store.CategoryBoth)
	assert.True(t, ok)
	assert.Equal(t, store.CategoryBoth, final, "override wins over detection")

	final, ok = Resolve("", store.CategorySoftware)
	assert.True(t, ok)
	assert.Equal(t, store.CategorySoftware, final)

	_, ok = Resolve("", "")
	assert.False(t, ok)
}
