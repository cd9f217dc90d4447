package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/loiht2/payload-forge/config"
	"github.com/loiht2/payload-forge/k8s"
)

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search --version <version>",
		Short: "List the artifact download URLs published for a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, _ := cmd.Flags().GetString("version")
			configFile, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}
			if !cfg.Artifact.Enabled {
				return errors.New("artifact search is disabled in the configuration")
			}
			if err := cfg.Validate(); err != nil {
				config.LogValidationErrors(err)
				return errors.New("invalid configuration")
			}

			var secrets config.SecretReader
			if cfg.Artifact.CredentialsSecret.Name != "" {
				client, err := k8s.NewClientFromKubeconfig(cfg.Kubeconfig)
				if err != nil {
					return err
				}
				secrets = client
			}
			searcher, err := config.ArtifactSearcher(cfg.Artifact, secrets)
			if err != nil {
				return err
			}

			urls, err := searcher.Search(cmd.Context(), version)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "No artifacts found for version %s\n", version)
				return nil
			}
			for _, url := range urls {
				fmt.Fprintln(cmd.OutOrStdout(), url)
			}
			return nil
		},
	}
	cmd.Flags().String("version", "", "Artifact version to look up, for example 1.4.2")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
