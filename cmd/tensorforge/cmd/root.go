// Package cmd implements the tensorforge CLI, grounded on
// junjiewwang-perf-analysis/cmd/cli/cmd's root/persistent-flag
// structure and pkg/config's viper wiring.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tensorforge/tensorforge/internal/tflog"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tensorforge",
	Short: "A symbolic tensor-graph compiler and execution runtime",
	Long: `tensorforge builds a lazy computation graph of primitive tensor
operations, rewrites it with a pattern-based compiler pass that fuses
matmul idioms into GEMV/GEMM kernels, then executes it on the CPU or
Metal backend.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := viper.GetString("log.level")
		if verbose {
			level = "debug"
		}
		tflog.SetLevel(level)
	},
}

// Execute runs the root command, exiting the process with a nonzero
// status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tensorforge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
}

// initConfig wires viper's flag/env/file precedence: explicit flags win,
// then TENSORFORGE_-prefixed environment variables, then the config
// file, then the defaults set here.
func initConfig() {
	viper.SetDefault("log.level", "info")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tensorforge")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("TENSORFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "tensorforge: config error: %v\n", err)
		}
	}
}
