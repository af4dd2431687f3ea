package cleaning

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/animus-labs/basic-cleaning/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Config holds the six values of one cleaning run. Bounds are inclusive and
// are not checked against each other: min_price > max_price yields an empty
// output.
type Config struct {
	InputArtifact     string  `mapstructure:"input_artifact" validate:"required"`
	OutputArtifact    string  `mapstructure:"output_artifact" validate:"required,artifactname"`
	OutputType        string  `mapstructure:"output_type" validate:"required"`
	OutputDescription string  `mapstructure:"output_description" validate:"required"`
	MinPrice          float64 `mapstructure:"min_price" validate:"finite"`
	MaxPrice          float64 `mapstructure:"max_price" validate:"finite"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		x := fl.Field().Float()
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	})
	_ = v.RegisterValidation("artifactname", func(fl validator.FieldLevel) bool {
		return domain.ValidateName(fl.Field().String()) == nil
	})
	return v
}

// Validate returns an error wrapping ErrConfiguration that lists every
// offending field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+" "+formatValidationError(e))
	}
	return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(msgs, "; "))
}

// Values is the snapshot recorded on the tracking run.
func (c Config) Values() map[string]any {
	return map[string]any{
		"input_artifact":     c.InputArtifact,
		"output_artifact":    c.OutputArtifact,
		"output_type":        c.OutputType,
		"output_description": c.OutputDescription,
		"min_price":          c.MinPrice,
		"max_price":          c.MaxPrice,
	}
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "finite":
		return "must be a finite number"
	case "artifactname":
		return fmt.Sprintf("%q is not a valid artifact name", e.Value())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
