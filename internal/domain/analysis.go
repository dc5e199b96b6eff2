package domain

import "fmt"

// DimensionScores holds the per-dimension audit scores, each 0-100
type DimensionScores struct {
	SEO             int `json:"seo"`
	SERP            int `json:"serp"`
	AEO             int `json:"aeo"`
	Humanization    int `json:"humanization"`
	Differentiation int `json:"differentiation"`
}

// AnalysisResult is the typed audit result returned by the analysis service
type AnalysisResult struct {
	OverallScore  int             `json:"overall_score"`
	Dimensions    DimensionScores `json:"dimensions"`
	InputType     string          `json:"input_type,omitempty"`
	WordCount     int             `json:"word_count,omitempty"`
	TargetKeyword string          `json:"target_keyword,omitempty"`
}

// Validate checks that every score is within 0-100
func (r *AnalysisResult) Validate() error {
	scores := []struct {
		name  string
		value int
	}{
		{"overall_score", r.OverallScore},
		{"seo", r.Dimensions.SEO},
		{"serp", r.Dimensions.SERP},
		{"aeo", r.Dimensions.AEO},
		{"humanization", r.Dimensions.Humanization},
		{"differentiation", r.Dimensions.Differentiation},
	}
	for _, s := range scores {
		if s.value < 0 || s.value > 100 {
			return fmt.Errorf("%s out of range: %d", s.name, s.value)
		}
	}
	return nil
}
