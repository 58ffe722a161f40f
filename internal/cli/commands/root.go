package commands

import (
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "entitymanagement",
		Short: "Read, search and curate knowledge graph entities",
		Long: color.CyanString(`entitymanagement - typed access to a Nexus knowledge graph

Resolves identifiers to registered entity types, runs property
queries, deprecates resources and moves attachments in and out
of the store.

Configuration is read from entitymanagement.yml and NEXUS_*
environment variables:
  NEXUS_BASE_URL   API root, e.g. https://nexus.example.org/v0
  NEXUS_TOKEN      bearer token`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "config file (default ./entitymanagement.yml)")
	pf.StringVar(&g.baseURL, "base-url", "", "store API root, overrides base_url")
	pf.StringVar(&g.token, "token", "", "bearer token, overrides NEXUS_TOKEN")
	pf.StringVarP(&g.output, "output", "o", "yaml", "output format: yaml, json or table")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	// Add subcommands
	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewTypesCommand(g))
	rootCmd.AddCommand(NewGetCommand(g))
	rootCmd.AddCommand(NewFindCommand(g))
	rootCmd.AddCommand(NewUniqueCommand(g))
	rootCmd.AddCommand(NewDeprecateCommand(g))
	rootCmd.AddCommand(NewAttachCommand(g))
	rootCmd.AddCommand(NewDownloadCommand(g))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the tool version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)

			for _, row := range [][2]string{
				{"entitymanagement version: ", Version},
				{"Git commit: ", GitCommit},
				{"Build date: ", BuildDate},
				{"Go version: ", goVer},
			} {
				titleColor.Fprint(out, row[0])
				valueColor.Fprintln(out, row[1])
			}
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		reportError(rootCmd.ErrOrStderr(), err, color.NoColor)
		return err
	}
	return nil
}
