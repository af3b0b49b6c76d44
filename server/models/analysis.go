package models

import "time"

type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Trajectory is the time-ordered flight path, one position per frame.
type Trajectory []Position3D

type Prediction string

const (
	PredictionHitting Prediction = "Hitting Stumps"
	PredictionMissing Prediction = "Missing Leg"
)

type DeliveryMetrics struct {
	Speed        float64    `json:"speed"`
	ReleaseAngle float64    `json:"release_angle"`
	PitchPoint   float64    `json:"pitch_point"`
	Swing        float64    `json:"swing"`
	Spin         float64    `json:"spin"`
	Seam         float64    `json:"seam"`
	ImpactPoint  Position3D `json:"impact_point"`
	Prediction   Prediction `json:"prediction"`
	LineLength   float64    `json:"line_length"`
}

type AnalysisResult struct {
	ID         string          `json:"id"`
	Metrics    DeliveryMetrics `json:"metrics"`
	Trajectory Trajectory      `json:"trajectory"`
	CreatedAt  time.Time       `json:"created_at"`
}

type VideoSource struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	LoadedAt    time.Time `json:"loaded_at"`
}
