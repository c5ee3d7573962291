package main

import (
	"io"
	"sync"

	"github.com/spf13/cobra"

	"reactivecrdt/luvjson/core/lvlog"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	logLevel string
	caller   bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "reactivecrdt",
		Short:         "Reactive views over replicated JSON documents",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			lvlog.SetLogger(opts.caller, opts.logLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = lvlog.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.caller, "log-caller", false, "include caller information in logs")

	cmd.AddCommand(newDemoCommand())
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

// syncWriter serializes writes coming from replica goroutines.
type syncWriter struct {
	mutex sync.Mutex
	w     io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.w.Write(p)
}
