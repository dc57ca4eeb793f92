package pipeline

import (
	"time"

	"github.com/datarill/datarill/validation"
)

// DefaultTransformationFunc is the identity transformation applied when a
// pipeline is created without one.
const DefaultTransformationFunc = "return data;"

// Transformation holds the user-supplied code run against trigger data.
type Transformation struct {
	Func string `json:"func"`
}

// Metadata describes a pipeline for humans.
type Metadata struct {
	Author            string    `json:"author"`
	DisplayName       string    `json:"displayName" validate:"required"`
	License           string    `json:"license"`
	Description       string    `json:"description"`
	CreationTimestamp time.Time `json:"creationTimestamp"`
}

// Config is one pipeline configuration. The ID is assigned on creation and
// immutable afterwards.
type Config struct {
	ID             string         `json:"id"`
	DatasourceID   string         `json:"datasourceId" validate:"required"`
	Transformation Transformation `json:"transformation"`
	Metadata       Metadata       `json:"metadata"`
}

// ApplyDefaults fills the identity transformation and creation timestamp.
func (c *Config) ApplyDefaults() {
	if c.Transformation.Func == "" {
		c.Transformation.Func = DefaultTransformationFunc
	}
	if c.Metadata.CreationTimestamp.IsZero() {
		c.Metadata.CreationTimestamp = time.Now()
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	return validation.Validate(c)
}
