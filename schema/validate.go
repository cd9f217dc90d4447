// Package schema holds the validation contract for payload form values, the
// default value set, and the table of selectable EMR clusters.
package schema

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/models"
)

// Messages for fields whose only failure mode is being empty or out of range
var requiredMessages = map[string]string{
	"job_name":              "Job Name is required.",
	"ams_app_name":          "AMS App Name is required.",
	"config_name":           "Config Name is required.",
	"job_priority":          "Job Priority is required.",
	"docker_image_path":     "Docker Image Path is required.",
	"main_application_file": "Main Application File is required.",
	"main_class":            "Main Class is required.",
	"language":              "Language is required.",
	"emr_cluster":           "EMR Cluster is required.",
	"key":                   "Key is required.",
	"value":                 "Value is required.",
}

const positiveIntegerMessage = "Must be a positive integer."

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

func payloadValidator() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		// Report fields by their wire names so paths read like "spark_conf[0].key".
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		if err := v.RegisterValidation("emr_cluster", func(fl validator.FieldLevel) bool {
			return IsKnownCluster(fl.Field().String())
		}); err != nil {
			panic(err)
		}
		validate = v
	})
	return validate
}

// Validate checks every field of candidate. It returns the candidate unchanged when
// all constraints hold, otherwise forgeerrors.ValidationErrors with one entry per
// violated field. Nothing is partially applied.
func Validate(candidate models.PayloadFormValues) (models.PayloadFormValues, error) {
	err := payloadValidator().Struct(candidate)
	if err == nil {
		return candidate, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return models.PayloadFormValues{}, errors.Wrap(err, "failed to validate payload values")
	}

	result := make(forgeerrors.ValidationErrors, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		path := stripPrefix(fieldErr.Namespace())
		if result.Has(path) {
			continue
		}
		result = append(result, forgeerrors.ValidationError{
			Field:  path,
			Reason: reason(fieldErr),
		})
	}
	return models.PayloadFormValues{}, result
}

func reason(fieldErr validator.FieldError) string {
	if fieldErr.Tag() == "gt" {
		return positiveIntegerMessage
	}
	if msg, ok := requiredMessages[fieldErr.Field()]; ok {
		return msg
	}
	return "Invalid value."
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
