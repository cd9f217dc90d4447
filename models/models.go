package models

import (
	"encoding/json"
	"time"
)

// JobPriority is the scheduling priority of a submitted job
type JobPriority string

const (
	PriorityHigh   JobPriority = "HIGH"
	PriorityMedium JobPriority = "MEDIUM"
	PriorityLow    JobPriority = "LOW"
)

// Language is the language the Spark application is written in
type Language string

const (
	LanguageScala  Language = "Scala"
	LanguagePython Language = "Python"
	LanguageJava   Language = "Java"
)

// KeyValue is one editable Spark or Hadoop configuration property.
// ID only identifies the row in an editor and is never part of the payload.
type KeyValue struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Key   string `json:"key" yaml:"key" validate:"required"`
	Value string `json:"value" yaml:"value" validate:"required"`
}

// PayloadFormValues is the flat form representation of one job configuration
type PayloadFormValues struct {
	JobName             string      `json:"job_name" yaml:"job_name" validate:"required"`
	AMSAppName          string      `json:"ams_app_name" yaml:"ams_app_name" validate:"required"`
	ConfigName          string      `json:"config_name" yaml:"config_name" validate:"required"`
	JobPriority         JobPriority `json:"job_priority" yaml:"job_priority" validate:"required,oneof=HIGH MEDIUM LOW"`
	StopJobAfterMinutes int         `json:"stop_job_after_minutes" yaml:"stop_job_after_minutes" validate:"gt=0"`
	DockerImagePath     string      `json:"docker_image_path" yaml:"docker_image_path" validate:"required"`
	MainApplicationFile string      `json:"main_application_file" yaml:"main_application_file" validate:"required"`
	MainClass           string      `json:"main_class" yaml:"main_class" validate:"required"`
	Language            Language    `json:"language" yaml:"language" validate:"required,oneof=Scala Python Java"`

	EMRCluster             string `json:"emr_cluster" yaml:"emr_cluster" validate:"required,emr_cluster"`
	GravitonEnabledCompute bool   `json:"graviton_enabled_compute" yaml:"graviton_enabled_compute"`

	GPUEnabledConfig     bool `json:"gpu_enabled_config" yaml:"gpu_enabled_config"`
	SpotTolerationConfig bool `json:"spot_toleration_config" yaml:"spot_toleration_config"`

	SparkConf  []KeyValue `json:"spark_conf" yaml:"spark_conf" validate:"dive"`
	HadoopConf []KeyValue `json:"hadoop_conf" yaml:"hadoop_conf" validate:"dive"`
}

// Clone returns a copy that shares no slices with v
func (v PayloadFormValues) Clone() PayloadFormValues {
	out := v
	if v.SparkConf != nil {
		out.SparkConf = append([]KeyValue(nil), v.SparkConf...)
	}
	if v.HadoopConf != nil {
		out.HadoopConf = append([]KeyValue(nil), v.HadoopConf...)
	}
	return out
}

// StoredTemplate is a named, persisted snapshot of form values
type StoredTemplate struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Data        PayloadFormValues `json:"data"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy of the template
func (t StoredTemplate) Clone() StoredTemplate {
	out := t
	out.Data = t.Data.Clone()
	return out
}

// ClusterOption describes one selectable EMR cluster
type ClusterOption struct {
	Value      string `json:"value"`
	Label      string `json:"label"`
	Production bool   `json:"production"`
	Default    bool   `json:"default,omitempty"`
}

// TemplateRequest is the body of template create/update calls.
// Data may be partial; omitted fields take their default values.
type TemplateRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
}

// OpenSessionRequest opens a configurator session. Mode is "create", "edit" or "use".
type OpenSessionRequest struct {
	TemplateID string `json:"templateId"`
	Mode       string `json:"mode"`
}

// MetadataRequest renames or re-describes a session's template
type MetadataRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ClusterRequest selects an EMR cluster in a session
type ClusterRequest struct {
	Cluster string `json:"cluster" binding:"required"`
}

// ConfirmClusterRequest carries the typed production confirmation
type ConfirmClusterRequest struct {
	Confirmation string `json:"confirmation"`
}

// ArtifactSearchRequest starts an artifact search in a session
type ArtifactSearchRequest struct {
	Version string `json:"version" binding:"required"`
}

// SelectArtifactRequest applies a search result as the main application file
type SelectArtifactRequest struct {
	URL string `json:"url" binding:"required"`
}

// ValidationResponse is returned by the validate endpoint
type ValidationResponse struct {
	Valid  bool              `json:"valid"`
	Errors []FieldError      `json:"errors,omitempty"`
	Values *PayloadFormValues `json:"values,omitempty"`
}

// FieldError is the wire form of a single validation failure
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ArtifactSearchResponse is returned by artifact searches
type ArtifactSearchResponse struct {
	Version string   `json:"version"`
	URLs    []string `json:"urls"`
}

// ExportInfo describes a payload file published to object storage
type ExportInfo struct {
	Bucket       string    `json:"bucket"`
	Object       string    `json:"object"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`
}
