package main

import (
	"io/ioutil"

	"github.com/spf13/cobra"
)

var overwriteCmd = &cobra.Command{
	Use:   "overwrite IMAGE PATH SRC_FILE",
	Short: "Replace the data of an existing file",
	Args:  cobra.ExactArgs(3),
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

		data, err := ioutil.ReadFile(args[2])
		if err != nil {
			SetError(err)
			return err
		}

		if err := fs.OverwriteFile(ino, data); err != nil {
			SetError(err)
			return err
		}

		log.Printf("overwrote inode %d (%d bytes)", ino, len(data))
		return nil
	},
}
