package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the routing catalog as YAML",
		Long:  "Print the built-in routing catalog with the --catalog overlay applied",
		Example: `
# Check what an overlay changes
routerctl defaults --catalog routing.yaml
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cmd)
			if err != nil {
				return err
			}

			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			defer encoder.Close()
			return encoder.Encode(catalog)
		},
	}
}
