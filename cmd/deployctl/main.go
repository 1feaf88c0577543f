package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var buildVersion = "dev"

// globalFlags are shared by every command.
type globalFlags struct {
	api     string
	token   string
	jsonOut bool
}

func main() {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "deployctl",
		Short:         "Inspect services, deployments and events from the deployments dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.api, "api", "", "API base URL (default from config or http://localhost:4000)")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "access token (default from config or DASHBOARD_TOKEN)")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "print raw JSON instead of tables")

	root.AddCommand(
		loginCmd(flags),
		tokenCmd(),
		servicesCmd(flags),
		dashboardCmd(flags),
		deploymentsCmd(flags),
		deploymentCmd(flags),
		eventsCmd(flags),
		statsCmd(flags),
		environmentsCmd(flags),
		cacheCmd(flags),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "deployctl %s\n", buildVersion)
		},
	}
}
