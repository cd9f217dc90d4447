package models

// Fixed values injected into every submission payload
const (
	PayloadType     = "spark"
	ComputePlatform = "EMR_EC2"
)

// SubmissionPayload is the nested document accepted by the job-submission API
type SubmissionPayload struct {
	JobName       string        `json:"job_name" yaml:"job_name"`
	AMSAppName    string        `json:"ams_app_name" yaml:"ams_app_name"`
	Configuration Configuration `json:"configuration" yaml:"configuration"`
	ConfigName    string        `json:"config_name" yaml:"config_name"`
	JobPriority   JobPriority   `json:"job_priority" yaml:"job_priority"`
}

// Configuration is the "configuration" block of a submission payload.
// Several scalars repeat values from the top level and from ComputePlatformProperties;
// the downstream API expects both copies.
type Configuration struct {
	ConfigName                string                    `json:"config_name" yaml:"config_name"`
	AMSAppName                string                    `json:"ams_app_name" yaml:"ams_app_name"`
	StopJobAfterMinutes       int                       `json:"stop_job_after_minutes" yaml:"stop_job_after_minutes"`
	Type                      string                    `json:"type" yaml:"type"`
	ComputePlatform           string                    `json:"compute_platform" yaml:"compute_platform"`
	ComputePlatformProperties ComputePlatformProperties `json:"compute_platform_properties" yaml:"compute_platform_properties"`
	SparkConf                 map[string]string         `json:"spark_conf" yaml:"spark_conf"`
	HadoopConf                map[string]string         `json:"hadoop_conf" yaml:"hadoop_conf"`
	DockerImagePath           string                    `json:"docker_image_path" yaml:"docker_image_path"`
	MainApplicationFile       string                    `json:"main_application_file" yaml:"main_application_file"`
	GPUEnabled                bool                      `json:"gpu_enabled" yaml:"gpu_enabled"`
	SpotToleration            bool                      `json:"spot_toleration" yaml:"spot_toleration"`
	MainClass                 string                    `json:"main_class" yaml:"main_class"`
	Language                  Language                  `json:"language" yaml:"language"`
}

// ComputePlatformProperties is "configuration.compute_platform_properties".
// GravitonEnabled is the string "true" or "false", not a boolean.
type ComputePlatformProperties struct {
	GPUEnabled      bool   `json:"gpu_enabled" yaml:"gpu_enabled"`
	SpotToleration  bool   `json:"spot_toleration" yaml:"spot_toleration"`
	EMRCluster      string `json:"emr_cluster" yaml:"emr_cluster"`
	GravitonEnabled string `json:"graviton_enabled" yaml:"graviton_enabled"`
}
