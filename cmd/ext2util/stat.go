package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat IMAGE [PATH]",
	Short: "Print inode metadata for a file or directory",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fpath := "/"
		if len(args) > 1 {
			fpath = args[1]
		}

		fs, dev, err := mountImage(args[0])
		if err != nil {
			SetError(err)
			return err
		}
		defer dev.Close()

		ino, err := fs.ReadPath(fpath)
		if err != nil {
			SetError(err)
			return err
		}

		in, err := fs.ReadInode(ino)
		if err != nil {
			SetError(err)
			return err
		}

		log.Printf("File: %s", filepath.Base(fpath))
		log.Printf("Size: %d", in.Size())
		log.Printf("Inode: %d", ino)
		log.Printf("Links: %d", in.LinksCount)
		log.Printf("Access: %#o (%s)", in.Mode&0o7777, in.PermissionString())
		log.Printf("Uid: %d Gid: %d", in.UID, in.GID)
		log.Printf("Access: %s", time.Unix(int64(in.AccessTime), 0))
		log.Printf("Modify: %s", time.Unix(int64(in.ModifyTime), 0))
		log.Printf("Create: %s", time.Unix(int64(in.CreateTime), 0))
		return nil
	},
}
