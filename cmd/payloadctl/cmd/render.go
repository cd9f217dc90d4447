package cmd

import (
	"github.com/spf13/cobra"

	"github.com/loiht2/payload-forge/converter"
	"github.com/loiht2/payload-forge/schema"
)

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [./path/to/values.json]",
		Short: "Render form values as a submission payload",
		Long: `Render form values as a submission payload.

Values are read from the given file, or from stdin when no file (or "-") is given.
Fields missing from the document take their default values.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			values, err := readValues(cmd, args)
			if err != nil {
				return err
			}
			if strict, _ := cmd.Flags().GetBool("strict"); strict {
				if values, err = schema.Validate(values); err != nil {
					return err
				}
			}
			body, err := converter.MarshalPayload(converter.ToSubmissionPayload(values), format)
			if err != nil {
				return err
			}
			return write(cmd, body)
		},
	}
	cmd.Flags().StringP("output", "o", string(converter.FormatJSON), "Output format: json or yaml")
	cmd.Flags().Bool("strict", false, "Refuse to render values that fail validation")
	return cmd
}
