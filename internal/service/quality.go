package service

import (
	"math"
	"time"

	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/geo"
)

// ClusterQuality is the breakdown behind a cluster's confidence score.
type ClusterQuality struct {
	Semantic   float64 `json:"semantic"`
	Spatial    float64 `json:"spatial"`
	Temporal   float64 `json:"temporal"`
	Confidence float64 `json:"confidence"`
}

// QualityScorer blends semantic cohesion, spatial compactness and temporal proximity
// into one confidence value in [0, 1].
type QualityScorer struct {
	SemanticWeight     float64
	SpatialWeight      float64
	TemporalWeight     float64
	SpatialScaleMeters float64
	TemporalScaleDays  float64
}

// NewQualityScorer builds a scorer from clustering configuration, using the
// standard 0.6/0.3/0.1 blend over 500 m and 30 days for unset values.
func NewQualityScorer(cfg config.ClusteringConfig) QualityScorer {
	q := QualityScorer{
		SemanticWeight:     cfg.SemanticWeight,
		SpatialWeight:      cfg.SpatialWeight,
		TemporalWeight:     cfg.TemporalWeight,
		SpatialScaleMeters: cfg.SpatialScaleMeters,
		TemporalScaleDays:  cfg.TemporalScaleDays,
	}
	if q.SemanticWeight == 0 && q.SpatialWeight == 0 && q.TemporalWeight == 0 {
		q.SemanticWeight, q.SpatialWeight, q.TemporalWeight = 0.6, 0.3, 0.1
	}
	if q.SpatialScaleMeters <= 0 {
		q.SpatialScaleMeters = 500
	}
	if q.TemporalScaleDays <= 0 {
		q.TemporalScaleDays = 30
	}
	return q
}

// Score computes the quality of a cluster. members and vectors are parallel slices.
func (q QualityScorer) Score(members []domain.Report, vectors [][]float32) ClusterQuality {
	points := make([]geo.Point, len(members))
	times := make([]time.Time, len(members))
	for i, m := range members {
		points[i] = geo.Point{Lat: m.Latitude, Lon: m.Longitude}
		times[i] = m.CreatedAt
	}

	quality := ClusterQuality{
		Semantic: MeanPairwiseSimilarity(vectors),
		Spatial:  q.SpatialCompactness(points),
		Temporal: q.TemporalProximity(times),
	}
	quality.Confidence = round3(q.SemanticWeight*quality.Semantic +
		q.SpatialWeight*quality.Spatial +
		q.TemporalWeight*quality.Temporal)
	return quality
}

// SpatialCompactness is 1 minus the mean haversine distance to the centroid over the
// spatial scale, floored at 0.
func (q QualityScorer) SpatialCompactness(points []geo.Point) float64 {
	if len(points) == 0 {
		return 0
	}
	centroid := geo.Centroid(points)
	var total float64
	for _, p := range points {
		total += geo.Haversine(p, centroid)
	}
	mean := total / float64(len(points))
	return math.Max(0, 1-mean/q.SpatialScaleMeters)
}

// TemporalProximity is 1 minus the creation-time span in days over the temporal scale,
// floored at 0.
func (q QualityScorer) TemporalProximity(times []time.Time) float64 {
	if len(times) == 0 {
		return 0
	}
	minT, maxT := times[0], times[0]
	for _, t := range times[1:] {
		if t.Before(minT) {
			minT = t
		}
		if t.After(maxT) {
			maxT = t
		}
	}
	spanDays := maxT.Sub(minT).Hours() / 24
	return math.Max(0, 1-spanDays/q.TemporalScaleDays)
}
