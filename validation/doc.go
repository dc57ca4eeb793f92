// Package validation provides input validation for datarill services.
//
// It wraps the go-playground validator for struct tag validation and maps
// failures onto the errors package so callers get a structured
// INVALID_INPUT error with per-field details.
//
//	type TriggerRequest struct {
//	    DatasourceID int64  `json:"datasourceId" validate:"required"`
//	    Data         any    `json:"data"`
//	}
//	err := validation.Validate(req)
package validation
