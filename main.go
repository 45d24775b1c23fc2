package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitError 携带非1的退出码,例如 monitor 在存储告急时返回2
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ai-news",
		Short:         "RSS → AI filter → AI summary → retention pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newRunCmd(&configPath),
		newFetchCmd(&configPath),
		newFilterCmd(&configPath),
		newSummarizeCmd(&configPath),
		newPurgeCmd(&configPath),
		newMonitorCmd(&configPath),
	)
	return root
}
