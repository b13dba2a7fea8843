package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/pfreturns/internal/app"
)

var (
	restoreFile string
	restoreYes  bool
)

func init() {
	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "Backup archive to restore (a bare name not found locally is looked up in the backup directory)")
	restoreCmd.Flags().BoolVar(&restoreYes, "yes", false, "Skip the confirmation prompt")
	restoreCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(backupsCmd)
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the whole returns table to a zip archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app.App) error {
			info, err := a.Backup.Backup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written: %s (%d bytes)\n", info.Path, info.Size)
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore --file <archive>",
	Short: "Replace the entire returns table with the contents of a backup",
	Long:  `Restore deletes every existing row before loading the archive. It is not a merge.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app.App) error {
			archive := resolveArchive(restoreFile, a.Backup.Dir())

			if !restoreYes {
				fmt.Fprintf(cmd.OutOrStdout(), "This deletes ALL rows in the store and replaces them with %s.\nType 'yes' to continue: ", archive)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Restore cancelled")
					return nil
				}
			}

			result, err := a.Backup.Restore(cmd.Context(), archive)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d of %d rows from %s\n", result.RowsUploaded, result.RowsLoaded, result.Archive)
			return nil
		})
	},
}

// resolveArchive prefers the path as given and only looks a bare name up in
// the backup directory when nothing exists at that path.
func resolveArchive(file, backupDir string) string {
	if _, err := os.Stat(file); err == nil {
		return file
	}
	if filepath.Base(file) == file {
		return filepath.Join(backupDir, file)
	}
	return file
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backup archives, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app.App) error {
			list, err := a.Backup.List()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No backups in %s\n", a.Backup.Dir())
				return nil
			}
			table := newTable(cmd.OutOrStdout(), "Filename", "Size", "Created")
			for _, b := range list {
				table.Append([]string{b.Filename, strconv.FormatInt(b.Size, 10), b.Created.Format("2006-01-02 15:04:05")})
			}
			table.Render()
			return nil
		})
	},
}
