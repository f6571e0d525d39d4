// Package cmd provides the command-line interface for AppSnowball.
// It handles command parsing, configuration loading, and wiring of the
// crawl pipelines.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/appsnowball/internal/config"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "appsnowball",
	Short: "Snowball crawler for app marketplaces and search suggestions",
	Long: `AppSnowball grows a set of search terms from a few seeds by following
marketplace and search engine suggestions, then collects the apps those
terms lead to, their details and their reviews.

Results are kept in a SQLite database so repeated runs only fetch what
changed.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		showConfig, _ := cmd.Flags().GetBool("show-config")
		if !showConfig {
			return cmd.Help()
		}
		cfg, err := loadConfig()
		if err != nil {
			if cfg == nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
		}
		return showCurrentConfig(cmd, cfg)
	},
}

// Execute adds all child commands to the root command and runs it until
// it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)
	defaults := config.DefaultConfig()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./appsnowball.yml)")
	flags.StringP("market", "m", "", "Market: android, ios, google-related, google-comp or bing")
	flags.String("lang", defaults.Lang, "Language code")
	flags.String("country", defaults.Country, "Country code")
	flags.Int("throttle", defaults.Throttle, "Worker requests per second (0=unlimited)")
	flags.Bool("prod", false, "Use the production database")
	flags.Bool("fresh", false, "Restart the expansion worker before use")
	flags.String("log-level", defaults.Log.Level, "Log level: debug, info, warn or error")
	flags.StringP("output", "o", "json", "Result format: json or yaml")

	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	rootCmd.AddCommand(newCrawlCmd(), newAppDetailsCmd(), newReviewsCmd(), newQSCmd(),
		newSimilarAppsCmd(), newSearchCmd(), newTestCmd())
}

// persistentBindings maps viper keys to persistent flags.
var persistentBindings = []struct {
	viperKey string
	flagName string
}{
	{"market", "market"},
	{"lang", "lang"},
	{"country", "country"},
	{"throttle", "throttle"},
	{"prod", "prod"},
	{"worker.fresh", "fresh"},
	{"log.level", "log-level"},
	{"output", "output"},
}

func bindFlags() {
	for _, bind := range persistentBindings {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.PersistentFlags().Lookup(bind.flagName)); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	bindFlags()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("appsnowball")
	}

	viper.SetEnvPrefix("AS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig layers viper values over the defaults and validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func showCurrentConfig(cmd *cobra.Command, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# Current AppSnowball Configuration\n")
	fmt.Fprintf(out, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(out, "# Configuration file search paths: ./appsnowball.yml\n")
	fmt.Fprintf(out, "# Environment variables prefix: AS_\n\n")
	fmt.Fprint(out, string(yamlData))
	fmt.Fprintf(out, "\n# Configuration source priority:\n")
	fmt.Fprintf(out, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(out, "# 2. Environment variables (AS_ prefix)\n")
	fmt.Fprintf(out, "# 3. Configuration file (appsnowball.yml)\n")
	fmt.Fprintf(out, "# 4. Default values (lowest priority)\n")
	return nil
}
