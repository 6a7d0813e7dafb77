package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ChannelInfo is one parameter row of the info output.
type ChannelInfo struct {
	Name    string  `json:"name"`
	Stain   string  `json:"stain,omitempty"`
	Range   float64 `json:"range"`
	Decades float64 `json:"decades,omitempty"`
}

// InfoResult summarizes one FCS file.
type InfoResult struct {
	Path     string            `json:"path"`
	Version  string            `json:"version"`
	Events   int               `json:"events"`
	Channels []ChannelInfo     `json:"channels"`
	Keywords map[string]string `json:"keywords,omitempty"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	var showKeywords bool

	cmd := &cobra.Command{
		Use:           "info <file.fcs>",
		Short:         "Print header, channel, and keyword summary",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, args[0], showKeywords, cmd)
		},
	}
	cmd.Flags().BoolVar(&showKeywords, "keywords", false, "include all TEXT segment keywords")
	return cmd
}

func runInfo(opts *RootOptions, path string, showKeywords bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	file, err := loadFCS(path)
	if err != nil {
		return err
	}

	result := InfoResult{
		Path:    path,
		Version: file.Version,
		Events:  file.Frame.Events(),
	}
	for _, ch := range file.Frame.Channels() {
		result.Channels = append(result.Channels, ChannelInfo{
			Name:    ch.Name,
			Stain:   ch.Stain,
			Range:   ch.Range,
			Decades: ch.Decades,
		})
	}
	if showKeywords {
		result.Keywords = file.Keywords
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s (%s)\n", path, file.Version)
	fmt.Fprintf(w, "events: %d\nchannels: %d\n\n", result.Events, len(result.Channels))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTAIN\tRANGE")
	for _, ch := range result.Channels {
		fmt.Fprintf(tw, "%s\t%s\t%.0f\n", ch.Name, ch.Stain, ch.Range)
	}
	tw.Flush()

	if showKeywords {
		keys := make([]string, 0, len(result.Keywords))
		for k := range result.Keywords {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w)
		for _, k := range keys {
			fmt.Fprintf(w, "%s = %s\n", k, result.Keywords[k])
		}
	}
	return nil
}
