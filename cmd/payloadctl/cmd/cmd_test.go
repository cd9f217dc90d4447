package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/loiht2/payload-forge/models"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := RootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func TestRender_FromStdin(t *testing.T) {
	out, err := execute(t, `{"job_name": "nightly", "spark_conf": [{"key": "a", "value": "1"}, {"key": "a", "value": "2"}]}`, "render")
	require.NoError(t, err)

	var payload models.SubmissionPayload
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "nightly", payload.JobName)
	assert.Equal(t, "new-ams-app", payload.AMSAppName)
	assert.Equal(t, map[string]string{"a": "2"}, payload.Configuration.SparkConf)
	assert.True(t, strings.HasPrefix(out, "{\n  \"job_name\""))
}

func TestRender_YAMLFileToYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("job_name: from-file\nstop_job_after_minutes: 15\n"), 0o600))

	out, err := execute(t, "", "render", path, "--output", "yaml")
	require.NoError(t, err)

	var payload models.SubmissionPayload
	require.NoError(t, yaml.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "from-file", payload.JobName)
	assert.Equal(t, 15, payload.Configuration.StopJobAfterMinutes)
}

func TestRender_Strict(t *testing.T) {
	_, err := execute(t, `{"job_name": ""}`, "render")
	assert.NoError(t, err)

	_, err = execute(t, `{"job_name": ""}`, "render", "--strict")
	assert.Error(t, err)
}

func TestRender_Errors(t *testing.T) {
	_, err := execute(t, "{}", "render", "--output", "xml")
	assert.Error(t, err)

	_, err = execute(t, "", "render", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = execute(t, "[unclosed", "render")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "", "validate")
	require.NoError(t, err)
	assert.Equal(t, "valid\n", out)

	out, err = execute(t, `{"job_name": "", "stop_job_after_minutes": 0}`, "validate", "-")
	assert.Error(t, err)
	assert.Contains(t, out, "job_name: ")
	assert.Contains(t, out, "stop_job_after_minutes: ")

	out, err = execute(t, "stop_job_after_minutes: soon\n", "validate")
	assert.Error(t, err)
	assert.Equal(t, "stop_job_after_minutes: Must be a number.\n", out)
}

func TestDefaults(t *testing.T) {
	out, err := execute(t, "", "defaults")
	require.NoError(t, err)
	var values models.PayloadFormValues
	require.NoError(t, json.Unmarshal([]byte(out), &values))
	assert.Equal(t, "new-spark-job", values.JobName)

	out, err = execute(t, "", "defaults", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "job_name: new-spark-job")

	out, err = execute(t, "", "defaults", "--payload")
	require.NoError(t, err)
	var payload models.SubmissionPayload
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "new-spark-job", payload.JobName)
}

func TestSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"tok","expires_in":3600,"token_type":"Bearer"}`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"results":[{"repo":"maven-snapshot-local","path":"com/acme/2.0.0-SNAPSHOT","name":"app-2.0.0-1.jar"}]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"artifact:\n"+
			"  tokenURL: "+server.URL+"/token\n"+
			"  searchURL: "+server.URL+"/search\n"+
			"  downloadBaseURL: https://downloads.example.com\n"), 0o600))
	t.Setenv("ARTYLAB_USERNAME", "svc-user")
	t.Setenv("ARTYLAB_PASSWORD", "s3cret")

	out, err := execute(t, "", "search", "--config", path, "--version", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "https://downloads.example.com/maven-snapshot-local/com/acme/2.0.0-SNAPSHOT/app-2.0.0-1.jar\n", out)

	_, err = execute(t, "", "search", "--config", path)
	assert.Error(t, err)
}
