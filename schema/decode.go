package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/models"
)

const (
	notANumberMessage   = "Must be a number."
	notAnIntegerMessage = "Must be an integer."
	notAStringMessage   = "Must be text."
	notABooleanMessage  = "Must be true or false."
	notKeyValuesMessage = "Must be a list of key/value pairs."
	maxInteger          = math.MaxInt32
)

// fieldDecoder reads one field of the document into values and returns a reason
// when the stored JSON has the wrong type. The field then keeps its default.
type fieldDecoder struct {
	name   string
	decode func(values *models.PayloadFormValues, raw json.RawMessage) string
}

var fieldDecoders = []fieldDecoder{
	{"job_name", stringField(func(v *models.PayloadFormValues) *string { return &v.JobName })},
	{"ams_app_name", stringField(func(v *models.PayloadFormValues) *string { return &v.AMSAppName })},
	{"config_name", stringField(func(v *models.PayloadFormValues) *string { return &v.ConfigName })},
	{"job_priority", stringField(func(v *models.PayloadFormValues) *string { return (*string)(&v.JobPriority) })},
	{"stop_job_after_minutes", integerField(func(v *models.PayloadFormValues) *int { return &v.StopJobAfterMinutes })},
	{"docker_image_path", stringField(func(v *models.PayloadFormValues) *string { return &v.DockerImagePath })},
	{"main_application_file", stringField(func(v *models.PayloadFormValues) *string { return &v.MainApplicationFile })},
	{"main_class", stringField(func(v *models.PayloadFormValues) *string { return &v.MainClass })},
	{"language", stringField(func(v *models.PayloadFormValues) *string { return (*string)(&v.Language) })},
	{"emr_cluster", stringField(func(v *models.PayloadFormValues) *string { return &v.EMRCluster })},
	{"graviton_enabled_compute", booleanField(func(v *models.PayloadFormValues) *bool { return &v.GravitonEnabledCompute })},
	{"gpu_enabled_config", booleanField(func(v *models.PayloadFormValues) *bool { return &v.GPUEnabledConfig })},
	{"spot_toleration_config", booleanField(func(v *models.PayloadFormValues) *bool { return &v.SpotTolerationConfig })},
	{"spark_conf", keyValuesField(func(v *models.PayloadFormValues) *[]models.KeyValue { return &v.SparkConf })},
	{"hadoop_conf", keyValuesField(func(v *models.PayloadFormValues) *[]models.KeyValue { return &v.HadoopConf })},
}

// Decode reads stored or submitted form data, using the default value for every field
// the document does not carry. Older records written before a field existed therefore
// load with that field's default rather than its zero value.
//
// Numbers stored as text are accepted. A field whose JSON type cannot be read keeps its
// default and is reported in the returned forgeerrors.ValidationErrors; the values are
// still returned alongside that error. Any other error means the document is not a
// JSON object and the values are unusable.
func Decode(data []byte) (models.PayloadFormValues, error) {
	values := DefaultValues()
	if len(data) == 0 {
		return values, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.PayloadFormValues{}, errors.Wrap(err, "failed to decode stored payload values")
	}

	var fieldErrs forgeerrors.ValidationErrors
	for _, field := range fieldDecoders {
		raw, ok := fields[field.name]
		if !ok {
			continue
		}
		if reason := field.decode(&values, raw); reason != "" {
			fieldErrs = append(fieldErrs, forgeerrors.ValidationError{Field: field.name, Reason: reason})
		}
	}
	if len(fieldErrs) > 0 {
		return values, fieldErrs
	}
	return values, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func stringField(get func(*models.PayloadFormValues) *string) func(*models.PayloadFormValues, json.RawMessage) string {
	return func(values *models.PayloadFormValues, raw json.RawMessage) string {
		if isNull(raw) {
			return ""
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return notAStringMessage
		}
		*get(values) = s
		return ""
	}
}

func booleanField(get func(*models.PayloadFormValues) *bool) func(*models.PayloadFormValues, json.RawMessage) string {
	return func(values *models.PayloadFormValues, raw json.RawMessage) string {
		if isNull(raw) {
			return ""
		}
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			return notABooleanMessage
		}
		switch v := value.(type) {
		case bool:
			*get(values) = v
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return notABooleanMessage
			}
			*get(values) = b
		default:
			return notABooleanMessage
		}
		return ""
	}
}

// integerField accepts JSON numbers and numeric text, as long as the number is whole
func integerField(get func(*models.PayloadFormValues) *int) func(*models.PayloadFormValues, json.RawMessage) string {
	return func(values *models.PayloadFormValues, raw json.RawMessage) string {
		if isNull(raw) {
			return ""
		}
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			return notANumberMessage
		}
		var number float64
		switch v := value.(type) {
		case float64:
			number = v
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
				return notANumberMessage
			}
			number = parsed
		default:
			return notANumberMessage
		}
		if number != math.Trunc(number) || math.Abs(number) > maxInteger {
			return notAnIntegerMessage
		}
		*get(values) = int(number)
		return ""
	}
}

// keyValuesField decodes into a fresh slice; null means an empty list
func keyValuesField(get func(*models.PayloadFormValues) *[]models.KeyValue) func(*models.PayloadFormValues, json.RawMessage) string {
	return func(values *models.PayloadFormValues, raw json.RawMessage) string {
		var entries []models.KeyValue
		if err := json.Unmarshal(raw, &entries); err != nil {
			return notKeyValuesMessage
		}
		if entries == nil {
			entries = []models.KeyValue{}
		}
		*get(values) = entries
		return ""
	}
}

// Encode is the inverse of Decode
func Encode(values models.PayloadFormValues) ([]byte, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode payload values")
	}
	return data, nil
}
