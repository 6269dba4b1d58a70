package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator performs fail-fast validation over a loaded Config, following
// the teacher's Validator shape (pkg/config/validator.go) scaled to this
// engine's configuration surface: the validate struct tags carry the
// per-field bounds, ValidateAll layers the cross-field checks tags cannot
// express on top.
type Validator struct {
	cfg *Config
}

// NewValidator constructs a Validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// structValidator evaluates the validate tags on the config sections,
// reporting field names by yaml tag so errors name what the operator wrote.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateAll validates every section, stopping at the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateTags(); err != nil {
		return err
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

// validateTags runs the struct-tag bounds over the whole Config, mapping
// the first field error into the section/field shape ValidationError uses.
func (v *Validator) validateTags() error {
	err := structValidator.Struct(v.cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	section := ""
	if parts := strings.Split(fe.StructNamespace(), "."); len(parts) > 1 {
		section = strings.ToLower(parts[1])
	}
	return NewValidationError(section, fe.Field(), fmt.Errorf("must satisfy %s=%s, got %v", fe.Tag(), fe.Param(), fe.Value()))
}

func (v *Validator) validateDefaults() error {
	blob := v.cfg.Defaults.ToTaskConfig()
	if err := blob.Validate(0); err != nil {
		return NewValidationError("defaults", "", err)
	}
	return nil
}
