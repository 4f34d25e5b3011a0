package config

import "strings"

// DefaultCategory is used for reports without a category and for unknown categories.
const DefaultCategory = "other"

// DefaultThresholds are the per-category cosine similarity thresholds for calling two reports duplicates.
// Categories with terse, consistent phrasing get higher thresholds.
var DefaultThresholds = map[string]float64{
	"streetlight":     0.80,
	"roads":           0.70,
	"water":           0.75,
	"sanitation":      0.72,
	"electricity":     0.78,
	"drainage":        0.73,
	"public_property": 0.76,
	"other":           0.80,
}

// DefaultRadii are the per-category candidate search radii in meters.
// Point-source issues get small radii, diffuse issues larger ones.
var DefaultRadii = map[string]int{
	"streetlight":     50,
	"public_property": 100,
	"electricity":     100,
	"water":           150,
	"drainage":        200,
	"sanitation":      200,
	"roads":           300,
	"other":           200,
}

// DetectionConfig holds the duplicate detection policy tables.
type DetectionConfig struct {
	LookbackDays    int                `mapstructure:"lookback_days"`
	CandidateLimit  int                `mapstructure:"candidate_limit"`
	DefaultCategory string             `mapstructure:"default_category"`
	Thresholds      map[string]float64 `mapstructure:"thresholds"`
	Radii           map[string]int     `mapstructure:"radii"`
}

// DefaultDetectionConfig returns the built-in policy.
func DefaultDetectionConfig() DetectionConfig {
	c := DetectionConfig{
		LookbackDays:    30,
		CandidateLimit:  50,
		DefaultCategory: DefaultCategory,
	}
	c.normalize()
	return c
}

// normalize fills categories missing from configured tables with the built-in values.
func (c *DetectionConfig) normalize() {
	if c.DefaultCategory == "" {
		c.DefaultCategory = DefaultCategory
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 50
	}

	thresholds := make(map[string]float64, len(DefaultThresholds))
	for k, v := range DefaultThresholds {
		thresholds[k] = v
	}
	for k, v := range c.Thresholds {
		thresholds[strings.ToLower(k)] = v
	}
	c.Thresholds = thresholds

	radii := make(map[string]int, len(DefaultRadii))
	for k, v := range DefaultRadii {
		radii[k] = v
	}
	for k, v := range c.Radii {
		radii[strings.ToLower(k)] = v
	}
	c.Radii = radii
}

// ResolveCategory maps an empty or unknown category to the default category.
func (c *DetectionConfig) ResolveCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if _, ok := c.Thresholds[category]; ok {
		return category
	}
	return c.DefaultCategory
}

// Threshold returns the duplicate similarity threshold for a category.
func (c *DetectionConfig) Threshold(category string) float64 {
	return c.Thresholds[c.ResolveCategory(category)]
}

// RadiusMeters returns the candidate search radius for a category.
func (c *DetectionConfig) RadiusMeters(category string) int {
	if r, ok := c.Radii[c.ResolveCategory(category)]; ok {
		return r
	}
	return c.Radii[c.DefaultCategory]
}
