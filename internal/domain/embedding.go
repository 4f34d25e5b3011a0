package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Vector is a dense embedding stored as a JSON array in a text column.
type Vector []float32

// Value implements the driver.Valuer interface for database serialization.
// Returns:
//   - driver.Value: JSON-encoded string representation of the vector.
//   - error: non-nil if marshaling fails.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = Vector{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Vector")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, (*[]float32)(v))
}

// ReportEmbedding caches the encoder output for one report.
// A row is only reusable while ModelName and ModelVersion match the active encoder.
type ReportEmbedding struct {
	ReportID     uint      `gorm:"primaryKey;autoIncrement:false" json:"report_id"`
	Embedding    Vector    `gorm:"type:text;not null" json:"-"`
	Dimension    int       `gorm:"not null" json:"dimension"`
	ModelName    string    `gorm:"type:text;not null;index:idx_report_embeddings_model" json:"model_name"`
	ModelVersion string    `gorm:"type:text;not null;index:idx_report_embeddings_model" json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for ReportEmbedding.
func (ReportEmbedding) TableName() string {
	return "report_embeddings"
}

// Matches reports whether the cached vector was produced by the given model.
func (e *ReportEmbedding) Matches(modelName, modelVersion string) bool {
	return e.ModelName == modelName && e.ModelVersion == modelVersion && len(e.Embedding) > 0
}
