package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/flywind2/t-cell-data/internal/adapter/flowrepo"
)

// FetchResult lists what a fetch run materialized on disk.
type FetchResult struct {
	Accession string   `json:"accession,omitempty"`
	Files     []string `json:"files"`
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		outDir     string
		baseURL    string
		archiveURL string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:           "fetch [accession]",
		Short:         "Download a public dataset's FCS files",
		Long: `Download the files of a public repository dataset by accession, or a
zip export directly with --archive. Files land in --out with their
original names; a cache under --out avoids re-downloading.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			accession := ""
			if len(args) == 1 {
				accession = args[0]
			}
			if accession == "" && archiveURL == "" {
				return NewExitError(ExitCommandError, "need an accession or --archive url")
			}
			return runFetch(rootOpts, accession, archiveURL, baseURL, outDir, timeout, cmd)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	cmd.Flags().StringVar(&baseURL, "base-url", "https://flowrepository.org/api", "dataset repository API base URL")
	cmd.Flags().StringVar(&archiveURL, "archive", "", "download and extract a zip export instead of an accession")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "per-download timeout")
	return cmd
}

func runFetch(opts *RootOptions, accession, archiveURL, baseURL, outDir string, timeout time.Duration, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := commandLogger(opts, cmd)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "cannot create output directory", err)
	}
	cache, err := flowrepo.NewDownloadCache(filepath.Join(outDir, ".cache"), timeout, logger, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot create download cache", err)
	}

	result := FetchResult{Accession: accession}

	if archiveURL != "" {
		extracted, err := cache.FetchArchive(cmd.Context(), archiveURL)
		if err != nil {
			return WrapExitError(ExitFailure, "archive download failed", err)
		}
		for _, src := range extracted {
			dest, err := placeFile(src, outDir)
			if err != nil {
				return err
			}
			result.Files = append(result.Files, dest)
		}
	} else {
		client := flowrepo.NewClient(baseURL, timeout, logger)
		ds, err := client.Dataset(cmd.Context(), accession)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("cannot resolve %s", accession), err)
		}
		formatter.VerboseLog("dataset %s: %d files", ds.Accession, len(ds.Files))
		for _, file := range ds.Files {
			src, err := cache.Fetch(cmd.Context(), file)
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("download %s failed", file.Name), err)
			}
			dest := filepath.Join(outDir, filepath.Base(file.Name))
			if err := copyFile(src, dest); err != nil {
				return err
			}
			result.Files = append(result.Files, dest)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	for _, f := range result.Files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}

// commandLogger builds a slog logger for CLI use: silent unless verbose.
func commandLogger(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	if !opts.Verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
}

func placeFile(src, outDir string) (string, error) {
	dest := filepath.Join(outDir, filepath.Base(src))
	if err := copyFile(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot read downloaded file", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot write output file", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return WrapExitError(ExitCommandError, "cannot write output file", err)
	}
	return out.Close()
}
