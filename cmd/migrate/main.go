// migrate runs code migrations from the terminal, either in-process or
// against a migration server.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate legacy code snippets and repositories with a Gemini model",
	Long: `migrate converts a code snippet, or a whole GitHub repository, from a legacy
language or framework to a modern one.

Without --server the migration runs in-process and needs a Gemini API key
(MIGRATE_GEMINI_API_KEY or GEMINI_API_KEY). With --server it is delegated to a
running migration server.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/migrate/config.toml)")
	pf.String("server", "", "migration server URL; runs in-process when empty")
	viper.BindPFlag("server", pf.Lookup("server"))
	pf.String("token", "", "bearer token for the migration server")
	viper.BindPFlag("token", pf.Lookup("token"))
	pf.Bool("plain", false, "disable colors and syntax highlighting")
	viper.BindPFlag("plain", pf.Lookup("plain"))
	pf.String("model", "", "Gemini model for in-process runs")
	viper.BindPFlag("model", pf.Lookup("model"))
	pf.String("log-level", "", "log level for in-process runs")
	viper.BindPFlag("log_level", pf.Lookup("log-level"))
	pf.String("export-dir", "", "directory exports are written to in-process")
	viper.BindPFlag("export_dir", pf.Lookup("export-dir"))

	viper.SetDefault("model", "gemini-2.5-pro")
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("export_dir", "migrated")
	viper.SetDefault("source", "github")
	viper.SetDefault("github_api_url", "https://api.github.com")
	viper.SetDefault("allow_sample", false)
	viper.SetDefault("context_token_budget", 12000)
	viper.SetDefault("tokenizer_model", "gpt-4")
	viper.SetDefault("thinking_budget", 2048)
	viper.SetDefault("max_context_files", 15)
	viper.SetDefault("max_analysis_paths", 500)
	viper.SetDefault("source_cache_bytes", 64<<20)
	viper.SetDefault("source_cache_ttl_seconds", 600)
	viper.SetDefault("theme", "monokai")

	// unprefixed names shared with the server
	viper.BindEnv("gemini_api_key", "MIGRATE_GEMINI_API_KEY", "GEMINI_API_KEY")
	viper.BindEnv("github_token", "MIGRATE_GITHUB_TOKEN", "GITHUB_TOKEN")
	viper.BindEnv("jwt_secret", "MIGRATE_JWT_SECRET", "JWT_SECRET")

	rootCmd.AddCommand(snippetCmd, repoCmd, languagesCmd, tokenCmd, logLevelCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(filepath.Join(home, ".config", "migrate"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("MIGRATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: reading config file: %v\n", err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
