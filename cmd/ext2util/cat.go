package main

import (
	"os"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:     "cat IMAGE PATH",
	Aliases: []string{"read"},
	Short:   "Print the contents of a file",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := mountImage(args[0])
		if err != nil {
			SetError(err)
			return err
		}
		defer dev.Close()

		ino, err := fs.ReadPath(args[1])
		if err != nil {
			SetError(err)
			return err
		}

		data, err := fs.ReadFile(ino)
		if err != nil {
			SetError(err)
			return err
		}

		_, err = os.Stdout.Write(data)
		return err
	},
}
