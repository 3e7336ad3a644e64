package main

import (
	"fmt"
	"os"

	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"
)

var lsLong bool

var lsCmd = &cobra.Command{
	Use:   "ls IMAGE [PATH]",
	Short: "List directory contents",
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

		entries, err := fs.Ls(ino)
		if err != nil {
			SetError(err)
			return err
		}

		if !lsLong {
			for _, e := range entries {
				log.Printf("%s", e.Name)
			}
			return nil
		}

		table := [][]string{{"", "", "", ""}}
		for _, e := range entries {
			table = append(table, []string{
				e.Inode.PermissionString(),
				fmt.Sprintf("%d", e.Ino),
				fmt.Sprintf("%d", e.Inode.Size()),
				e.Name,
			})
		}
		printTable(table)
		return nil
	},
}

func printTable(rows [][]string) {
	w := tablewriter.NewWriter(os.Stdout)
	w.SetAlignment(tablewriter.ALIGN_LEFT)
	w.SetBorder(false)
	w.SetColumnSeparator("")
	for i := 1; i < len(rows); i++ {
		w.Append(rows[i])
	}
	w.Render()
}

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "use a long listing format")
}
