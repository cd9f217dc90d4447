package converter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/loiht2/payload-forge/models"
)

// Format selects the encoding of a rendered payload
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const (
	// DefaultExportFileName is used when the job name is empty
	DefaultExportFileName = "payload.json"
	exportIndent          = "  "
)

var unsafeFileNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// ToSubmissionPayload reshapes flat form values into the nested submission document.
// Values are not validated here; callers on the save and export paths validate first.
func ToSubmissionPayload(values models.PayloadFormValues) models.SubmissionPayload {
	return models.SubmissionPayload{
		JobName:    values.JobName,
		AMSAppName: values.AMSAppName,
		Configuration: models.Configuration{
			ConfigName:          values.ConfigName,
			AMSAppName:          values.AMSAppName,
			StopJobAfterMinutes: values.StopJobAfterMinutes,
			Type:                models.PayloadType,
			ComputePlatform:     models.ComputePlatform,
			ComputePlatformProperties: models.ComputePlatformProperties{
				GPUEnabled:      values.GPUEnabledConfig,
				SpotToleration:  values.SpotTolerationConfig,
				EMRCluster:      values.EMRCluster,
				GravitonEnabled: strconv.FormatBool(values.GravitonEnabledCompute),
			},
			SparkConf:           foldKeyValues(values.SparkConf),
			HadoopConf:          foldKeyValues(values.HadoopConf),
			DockerImagePath:     values.DockerImagePath,
			MainApplicationFile: values.MainApplicationFile,
			GPUEnabled:          values.GPUEnabledConfig,
			SpotToleration:      values.SpotTolerationConfig,
			MainClass:           values.MainClass,
			Language:            values.Language,
		},
		ConfigName:  values.ConfigName,
		JobPriority: values.JobPriority,
	}
}

// foldKeyValues turns an ordered property list into a map.
// Later entries win over earlier ones with the same key; empty keys are dropped.
func foldKeyValues(entries []models.KeyValue) map[string]string {
	result := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.Key == "" {
			continue
		}
		result[entry.Key] = entry.Value
	}
	return result
}

// MarshalPayload encodes a payload in the requested format.
// JSON output is indented with two spaces.
func MarshalPayload(payload models.SubmissionPayload, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		encoder.SetEscapeHTML(false)
		encoder.SetIndent("", exportIndent)
		if err := encoder.Encode(payload); err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
	case FormatYAML:
		out, err := yaml.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to YAML: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported payload format %q", format)
	}
}

// ExportFileName derives the download name for a payload from its job name.
// Characters outside [A-Za-z0-9_.-] become underscores.
func ExportFileName(jobName string) string {
	if jobName == "" {
		return DefaultExportFileName
	}
	return unsafeFileNameChars.ReplaceAllString(jobName, "_") + ".json"
}

// Export renders values as a downloadable JSON document and returns it with its file name
func Export(values models.PayloadFormValues) (string, []byte, error) {
	body, err := MarshalPayload(ToSubmissionPayload(values), FormatJSON)
	if err != nil {
		return "", nil, err
	}
	return ExportFileName(values.JobName), body, nil
}
