package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/loiht2/payload-forge/converter"
	"github.com/loiht2/payload-forge/schema"
)

func defaultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the default form values, or with --payload the payload they render to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			values := schema.DefaultValues()
			if payload, _ := cmd.Flags().GetBool("payload"); payload {
				body, err := converter.MarshalPayload(converter.ToSubmissionPayload(values), format)
				if err != nil {
					return err
				}
				return write(cmd, body)
			}

			var body []byte
			if format == converter.FormatYAML {
				body, err = yaml.Marshal(values)
			} else {
				body, err = schema.Encode(values)
			}
			if err != nil {
				return err
			}
			return write(cmd, body)
		},
	}
	cmd.Flags().StringP("output", "o", string(converter.FormatJSON), "Output format: json or yaml")
	cmd.Flags().Bool("payload", false, "Render the defaults as a submission payload")
	return cmd
}
