package converter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

func TestExportFileName(t *testing.T) {
	tests := map[string]struct {
		jobName  string
		expected string
	}{
		"plain":        {jobName: "nightly-etl_v2.1", expected: "nightly-etl_v2.1.json"},
		"spaces":       {jobName: "my spark job", expected: "my_spark_job.json"},
		"path chars":   {jobName: "../etc/passwd", expected: ".._etc_passwd.json"},
		"empty":        {jobName: "", expected: "payload.json"},
		"unicode rune": {jobName: "café", expected: "caf_.json"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExportFileName(tc.jobName))
		})
	}
}

func TestExport(t *testing.T) {
	values := schema.DefaultValues()
	values.JobName = "daily report"

	name, body, err := Export(values)
	require.NoError(t, err)

	assert.Equal(t, "daily_report.json", name)
	var payload models.SubmissionPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, ToSubmissionPayload(values), payload)
}
