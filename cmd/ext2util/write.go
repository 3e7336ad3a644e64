package main

import (
	"io/ioutil"
	"path/filepath"

	"github.com/spf13/cobra"
)

var writeMode uint32

var writeCmd = &cobra.Command{
	Use:   "write IMAGE PARENT_PATH SRC_FILE",
	Short: "Create a new regular file from host file SRC_FILE",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := mountImage(args[0])
		if err != nil {
			SetError(err)
			return err
		}
		defer dev.Close()

		parentIno, err := fs.ReadPath(args[1])
		if err != nil {
			SetError(err)
			return err
		}

		data, err := ioutil.ReadFile(args[2])
		if err != nil {
			SetError(err)
			return err
		}

		name := filepath.Base(args[2])
		ino, err := fs.WriteFile(parentIno, name, data, uint16(writeMode))
		if err != nil {
			SetError(err)
			return err
		}

		log.Printf("created inode %d", ino)
		return nil
	},
}

func init() {
	writeCmd.Flags().Uint32Var(&writeMode, "mode", 0o644, "permission bits for the new file")
}
