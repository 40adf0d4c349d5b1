package cli

import (
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	cfgFile      string
	outputFormat string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = NewRootCmd()

// NewRootCmd builds the command tree with fresh flag state.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "milepost",
		Version: Version,
		Short:   "Progress tracking for bookings, milestones and tasks",
		Long: `Milepost keeps booking progress in step with the work underneath it.
Task and milestone status changes are validated, milestone counters are
re-aggregated and the booking's weighted progress is rolled up after every
write.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./milepost.yaml)")
	flags.String("storage-driver", "", "storage driver: memory, filesystem, postgres or sqlite")
	flags.String("storage-path", "", "workspace directory or sqlite database file")
	flags.String("storage-dsn", "", "postgres connection string")
	flags.String("cascade-mode", "", "cascade mode: sync or async")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")

	root.SetVersionTemplate("milepost {{.Version}}\n")
	root.AddCommand(
		newBookingCmd(),
		newMilestoneCmd(),
		newTaskCmd(),
		newStatusesCmd(),
		newApplyCmd(),
		newImportCmd(),
		newHistoryCmd(),
		newServeCmd(),
		newWatchCmd(),
		newDashboardCmd(),
		newConfigCmd(),
		newCompletionCmd(),
	)
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() error {
	return RootCmd.Execute()
}

// flagBindings maps persistent flags onto config keys.
var flagBindings = map[string]string{
	"storage.driver": "storage-driver",
	"storage.path":   "storage-path",
	"storage.dsn":    "storage-dsn",
	"cascade.mode":   "cascade-mode",
	"log.level":      "log-level",
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
		},
	}
	return cmd
}
