package config

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report the env var or json name instead of the Go field name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"env", "json", "params"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	return v
}
