package schema

import "github.com/loiht2/payload-forge/models"

// Default template seeded into an empty store
const (
	DefaultTemplateName        = "Default Spark Job"
	DefaultTemplateDescription = "A pre-configured Spark job template."
)

// DefaultSparkConf returns the starter Spark properties
func DefaultSparkConf() []models.KeyValue {
	return []models.KeyValue{
		{ID: "spark_1", Key: "spark.app.name", Value: "my-spark-app"},
		{ID: "spark_2", Key: "spark.driver.memory", Value: "4G"},
		{ID: "spark_3", Key: "spark.executor.cores", Value: "2"},
		{ID: "spark_4", Key: "spark.executor.memory", Value: "4G"},
		{ID: "spark_5", Key: "spark.executor.instances", Value: "2"},
	}
}

// DefaultHadoopConf returns the starter Hadoop properties
func DefaultHadoopConf() []models.KeyValue {
	return []models.KeyValue{
		{ID: "hadoop_1", Key: "hive.metastore.uris", Value: "thrift://your-hive-metastore:9083"},
		{ID: "hadoop_2", Key: "fs.s3a.connection.ssl.enabled", Value: "true"},
	}
}

// DefaultValues returns the baseline used for new configurations and as the
// merge base for stored data that predates newer fields.
// Each call returns a fresh value; callers may modify it.
func DefaultValues() models.PayloadFormValues {
	return models.PayloadFormValues{
		JobName:                "new-spark-job",
		AMSAppName:             "new-ams-app",
		ConfigName:             "new-app-config",
		JobPriority:            models.PriorityMedium,
		StopJobAfterMinutes:    60,
		EMRCluster:             DefaultCluster,
		GravitonEnabledCompute: false,
		DockerImagePath:        "your-registry/your-image:tag",
		MainApplicationFile:    "s3://your-bucket/path/to/your-app.jar",
		MainClass:              "com.example.YourMainClass",
		Language:               models.LanguageScala,
		GPUEnabledConfig:       false,
		SpotTolerationConfig:   false,
		SparkConf:              DefaultSparkConf(),
		HadoopConf:             DefaultHadoopConf(),
	}
}
