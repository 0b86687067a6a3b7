package intake

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AltairaLabs/DubKit/types"
)

//go:embed transcreation.schema.json
var embeddedSchema string

// ValidationError is a single field-level schema violation.
type ValidationError struct {
	Field       string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ValidationErrors aggregates every violation found in one document.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return "invalid transcreation: " + strings.Join(parts, "; ")
}

// ValidateDocument checks a raw transcreation document against the embedded
// JSON Schema, then applies the cross-field rules the schema cannot express.
// Returns ValidationErrors describing every violation, or nil.
func ValidateDocument(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(embeddedSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make(ValidationErrors, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, ValidationError{Field: e.Field(), Description: e.Description()})
	}
	return errs
}

// validateSegments enforces the rules that span fields: timestamps must be
// ordered within each segment.
func validateSegments(segments []types.TranscriptSegment) error {
	var errs ValidationErrors
	for i, seg := range segments {
		if seg.StartMs > seg.EndMs {
			errs = append(errs, ValidationError{
				Field:       fmt.Sprintf("segments.%d", i),
				Description: fmt.Sprintf("start_ms %d exceeds end_ms %d", seg.StartMs, seg.EndMs),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
