package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nullsector/ext2fs/pkg/elog"
)

var log elog.Logger

var (
	flagVerbose bool
	flagDebug   bool
)

// Each command executed may set an error and a matching exit code,
// read back by main after rootCmd.Execute returns.
var errorStatusCode int

// SetError records the process exit status for a failed command,
// choosing the code with exitCodeFor.
func SetError(err error) {
	if err == nil {
		return
	}
	logrus.Errorf("%v", err)
	errorStatusCode = exitCodeFor(err)
}

var rootCmd = &cobra.Command{
	Use:   "ext2util",
	Short: "Inspect and mutate raw ext2 file-system images",
	Long:  "ext2util mounts a raw ext2 image and exposes its metadata engine: listing directories, reading and writing files, and dumping on-disk structures.",
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}
		log = logger
		return nil
	}

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(overwriteCmd)
	rootCmd.AddCommand(dumpSuperblockCmd)
	rootCmd.AddCommand(dumpGroupCmd)
	rootCmd.AddCommand(dumpInodeCmd)
}
