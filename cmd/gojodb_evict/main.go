package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sushant-115/gojodb-evict/config"
)

const Version = "0.3.0"

var (
	cfgFile string
	v       = viper.New()

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "gojodb-evict",
		Short: "page eviction and tree reclamation for GojoDB trees",
		Long: fmt.Sprintf(`gojodb-evict (v%s)

Builds an in-memory B-tree, runs background eviction against it and then
reclaims the whole tree in one of the sync modes (close, discard,
discard-force). Settings come from flags, a YAML file or GOJODB_EVICT_*
environment variables.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of gojodb-evict",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gojodb-evict v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(v)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", "minimum log level (debug, info, warn, error)")
	_ = v.BindPFlag("logger.level", RootCmd.PersistentFlags().Lookup(key))

	key = "log-format"
	RootCmd.PersistentFlags().String(key, "console", "log format (json, console)")
	_ = v.BindPFlag("logger.format", RootCmd.PersistentFlags().Lookup(key))

	key = "block-store"
	RootCmd.PersistentFlags().String(key, "memory", "where reconciled pages are written (memory, sqlite)")
	_ = v.BindPFlag("block_store.kind", RootCmd.PersistentFlags().Lookup(key))

	key = "block-path"
	RootCmd.PersistentFlags().String(key, "data/blocks.db", "sqlite file for the sqlite block store")
	_ = v.BindPFlag("block_store.path", RootCmd.PersistentFlags().Lookup(key))

	key = "compression"
	RootCmd.PersistentFlags().String(key, "none", "page image compression (none, xz)")
	_ = v.BindPFlag("block_store.compression", RootCmd.PersistentFlags().Lookup(key))

	key = "workers"
	RootCmd.PersistentFlags().Int(key, 4, "background eviction workers")
	_ = v.BindPFlag("server.workers", RootCmd.PersistentFlags().Lookup(key))

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(runCmd)
}

// initConfig loads env files before viper reads the environment.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// loadConfig resolves flags, file and environment into a Config.
func loadConfig() (*config.Config, error) {
	return config.FromViper(v, cfgFile)
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
