package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	"github.com/3leaps/gcodeml/internal/apperrors"
	schemasassets "github.com/3leaps/gcodeml/internal/assets/schemas"
)

// SchemaID is the schema identifier for session manifests.
const SchemaID = "gcodeml/v1.0.0/session-manifest"

// ErrSchemaNotFound indicates the embedded schema is missing.
var ErrSchemaNotFound = errors.New("manifest schema not found")

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError is a single schema violation.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/jobs/0/walltime").
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is every schema violation found in one document.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap makes schema failures match apperrors.ErrValidation.
func (e ValidationErrors) Unwrap() error {
	return apperrors.ErrValidation
}

// Validate checks a typed manifest against the schema.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}
	return ValidateRaw(data)
}

// ValidateRaw checks raw JSON data against the embedded manifest schema.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.SessionManifestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded session-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.SessionManifestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
