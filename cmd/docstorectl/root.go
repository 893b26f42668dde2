package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docstorectl",
	Short: "CLI for the docstore server",
	Long: `docstorectl reads and writes documents, projects and imports on a docstore server.

Settings are taken from flags, DOCSTORECTL_* environment variables and
$HOME/.docstorectl.yaml, in that order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.docstorectl.yaml)")
	flags.String("server", "http://localhost:8080", "Docstore server URL")
	flags.String("token", "", "Bearer token for jwt identity mode")
	flags.String("user", "", "User name sent in the X-Remote-User header for header identity mode")
	flags.StringP("output", "o", "table", "Output format: table, json, yaml")

	for _, name := range []string{"server", "token", "user", "output"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(importsCmd)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".docstorectl")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("DOCSTORECTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func outputFormat() string {
	return viper.GetString("output")
}
