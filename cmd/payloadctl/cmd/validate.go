package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/schema"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [./path/to/values.json]",
		Short: "Check form values and list every invalid field",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := readValues(cmd, args)
			var fieldErrs forgeerrors.ValidationErrors
			if err != nil && !errors.As(err, &fieldErrs) {
				return err
			}
			_, err = schema.Validate(values)
			var validationErrs forgeerrors.ValidationErrors
			if err != nil && !errors.As(err, &validationErrs) {
				return err
			}
			for _, validationErr := range validationErrs {
				if !fieldErrs.Has(validationErr.Field) {
					fieldErrs = append(fieldErrs, validationErr)
				}
			}
			if len(fieldErrs) > 0 {
				for _, fieldErr := range fieldErrs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", fieldErr.Field, fieldErr.Reason)
				}
				return errors.Errorf("%d invalid field(s)", len(fieldErrs))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}
