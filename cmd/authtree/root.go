package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "authtree",
	Short: "authtree runs authentication journeys defined as YAML trees",
	Long: `authtree loads node trees from YAML files and drives journeys through them,
either as an HTTP service (serve) or interactively in the terminal (run).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringSlice("tree", nil, "tree file to load (repeatable, added to the config list)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")
}
