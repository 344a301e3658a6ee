package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var (
		lines  int
		follow bool
	)
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the automation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path := cfg.Logger.LogFile
			if path == "" {
				return errors.New("no log file configured (logger.log_file)")
			}

			out := cmd.OutOrStdout()
			if err := printLastLines(out, path, lines); err != nil {
				if !follow || !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			if follow {
				return followLog(cmd.Context(), out, path)
			}
			return nil
		},
	}
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print (0 for all)")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are written")
	return logsCmd
}

// printLastLines writes the final n lines of the file at path, or all of it when n <= 0.
func printLastLines(w io.Writer, path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var ring []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	for _, line := range ring {
		fmt.Fprintln(w, line)
	}
	return nil
}

// followLog streams lines appended to path until ctx is done.
func followLog(ctx context.Context, w io.Writer, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow log file: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				continue
			}
			fmt.Fprintln(w, line.Text)
		}
	}
}
