package cmd

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/loiht2/payload-forge/converter"
	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "payloadctl",
		Short:        "payloadctl renders and checks Spark job submission payloads.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "Path to a payload-forge config file")

	cmd.AddCommand(
		renderCmd(),
		validateCmd(),
		defaultsCmd(),
		searchCmd(),
	)
	return cmd
}

// readValues reads form values from the named file, or from stdin when the name is
// empty or "-". JSON and YAML documents are both accepted; missing fields take their defaults.
func readValues(cmd *cobra.Command, args []string) (models.PayloadFormValues, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return models.PayloadFormValues{}, errors.Wrap(err, "failed to read form values")
	}

	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return models.PayloadFormValues{}, errors.Wrap(err, "form values are neither JSON nor YAML")
	}
	if string(jsonData) == "null" {
		jsonData = nil
	}
	return schema.Decode(jsonData)
}

func outputFormat(cmd *cobra.Command) (converter.Format, error) {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return "", err
	}
	switch format := converter.Format(output); format {
	case converter.FormatJSON, converter.FormatYAML:
		return format, nil
	default:
		return "", errors.Errorf("unsupported output format %q; use json or yaml", output)
	}
}

func write(cmd *cobra.Command, body []byte) error {
	out := cmd.OutOrStdout()
	if _, err := out.Write(body); err != nil {
		return err
	}
	if len(body) == 0 || body[len(body)-1] != '\n' {
		_, err := io.WriteString(out, "\n")
		return err
	}
	return nil
}
