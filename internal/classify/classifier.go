package classify

import (
	"log/slog"
	"math"
	"strings"

	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

// Indicator is a keyword and the weight it adds when found in a file name.
type Indicator struct {
	Keyword string
	Weight  float64
}

// Family groups indicators that point at the same kind of installation work.
type Family struct {
	Name       string
	Category   store.Category
	Indicators []Indicator
}

// FamilyScore captures one family's contribution to a classification.
type FamilyScore struct {
	Name     string         `json:"name"`
	Category store.Category `json:"category"`
	Score    float64        `json:"score"`
	Matched  []string       `json:"matched,omitempty"`
}

// Result is the outcome of classifying one file name. Category is empty
// when nothing matched.
type Result struct {
	Category   store.Category `json:"category,omitempty"`
	Confidence float64        `json:"confidence"`
	Scores     []FamilyScore  `json:"scores"`
	Method     string         `json:"method"`
}

// ambiguityRatio is how close the weaker side must come to the stronger one
// before a file name is treated as covering both software and hardware.
const ambiguityRatio = 0.5

// DefaultFamilies returns the keyword tables used for ATP file names.
func DefaultFamilies() []Family {
	return []Family{
		{
			Name:     "software_license",
			Category: store.CategorySoftware,
			Indicators: []Indicator{
				{"sw license", 100}, {"sw lic", 100}, {"sw licen", 100},
				{"license ug", 90}, {"ug bw", 80}, {"bw ug", 80},
				{" ug ", 50}, {" bw ", 50},
				{"modulation", 70}, {"software", 60}, {"license", 60},
			},
		},
		{
			Name:     "pln_upgrade",
			Category: store.CategoryHardware,
			Indicators: []Indicator{
				{"pln", 100}, {"power", 80}, {"rectifier", 60}, {"battery", 60},
			},
		},
		{
			Name:     "dismantle_drop",
			Category: store.CategoryHardware,
			Indicators: []Indicator{
				{"dismantle drop", 120}, {"dismantle-drop", 120}, {"drop", 50},
			},
		},
		{
			Name:     "dismantle_keep",
			Category: store.CategoryHardware,
			Indicators: []Indicator{
				{"dismantle keep", 120}, {"dismantle-keep", 120}, {"keep", 50},
			},
		},
		{
			Name:     "ran_mw",
			Category: store.CategoryHardware,
			Indicators: []Indicator{
				{"ran", 80}, {"mw", 60}, {"microwave", 80}, {"reroute", 70}, {"upgrade", 60}, {"new", 40},
			},
		},
	}
}

type Classifier struct {
	families []Family
	logger   *slog.Logger
}

func NewClassifier(families []Family, logger *slog.Logger) *Classifier {
	if len(families) == 0 {
		families = DefaultFamilies()
	}
	return &Classifier{families: families, logger: logger}
}

// FromFilename scores the file name against every family and maps the
// totals onto a workflow category.
func (c *Classifier) FromFilename(filename string) Result {
	name := strings.ToLower(filename)
	result := Result{Method: "filename_analysis"}

	var software, hardware float64
	for _, f := range c.families {
		fs := FamilyScore{Name: f.Name, Category: f.Category}
		for _, ind := range f.Indicators {
			if strings.Contains(name, ind.Keyword) {
				fs.Score += ind.Weight
				fs.Matched = append(fs.Matched, ind.Keyword)
			}
		}
		result.Scores = append(result.Scores, fs)
		switch f.Category {
		case store.CategorySoftware:
			software += fs.Score
		case store.CategoryHardware:
			hardware += fs.Score
		}
	}

	switch {
	case software == 0 && hardware == 0:
		// A bare "ATP" file name is most often a RAN/MW acceptance.
		if strings.Contains(name, "atp") {
			result.Category = store.CategoryHardware
			result.Confidence = 0.5
		}
	case software > 0 && hardware > 0 && math.Min(software, hardware)/math.Max(software, hardware) >= ambiguityRatio:
		result.Category = store.CategoryBoth
		result.Confidence = 0.5
	case software >= hardware:
		result.Category = store.CategorySoftware
		result.Confidence = math.Min(software/(software+hardware+1), 0.95)
	default:
		result.Category = store.CategoryHardware
		result.Confidence = math.Min(hardware/(software+hardware+1), 0.95)
	}

	if c.logger != nil {
		c.logger.Debug("classified file name",
			"filename", filename,
			"category", result.Category,
			"confidence", result.Confidence,
			"software_score", software,
			"hardware_score", hardware,
		)
	}
	return result
}

// Resolve applies the document-control override on top of the detected
// category. ok is false when neither is present.
func Resolve(detected, override store.Category) (final store.Category, ok bool) {
	if override != "" {
		return override, true
	}
	if detected != "" {
		return detected, true
	}
	return "", false
}
