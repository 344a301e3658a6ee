package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/discovery"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

func newFilesCmd() *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "List the files the next run would upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			finder, err := discovery.NewFinder(cfg.Form.UploadDir, cfg.Form.Extensions, cfg.Form.Ignore, observability.GetLogger())
			if err != nil {
				return err
			}

			files := finder.Find()
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintf(out, "No eligible files in %s\n", finder.Dir())
				return nil
			}
			for _, f := range files {
				fmt.Fprintln(out, f)
			}
			return nil
		},
	}
	filesCmd.Flags().String("upload-dir", "", "Directory to scan. (Overrides config/env)")
	return filesCmd
}
