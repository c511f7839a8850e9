package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/commitmsg"
)

type commitFlags struct {
	milestone  string
	bpm        float64
	sampleRate int
	key        string
	tags       []string
	fields     []string
	json       bool
}

// metadata returns the milestone metadata, or nil for a plain snapshot.
func (f *commitFlags) metadata() (*commitmsg.Metadata, error) {
	if f.milestone == "" {
		if f.bpm != 0 || f.sampleRate != 0 || f.key != "" || len(f.tags) > 0 || len(f.fields) > 0 {
			return nil, fmt.Errorf("metadata flags require --milestone")
		}
		return nil, nil
	}
	meta := &commitmsg.Metadata{
		Message:      f.milestone,
		BPM:          f.bpm,
		SampleRate:   f.sampleRate,
		KeySignature: f.key,
		Tags:         f.tags,
	}
	for _, kv := range f.fields {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --field %q, want key=value", kv)
		}
		if meta.Fields == nil {
			meta.Fields = map[string]string{}
		}
		meta.Fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return meta, nil
}

func registerCommitCmd(parent *cobra.Command, env *cli.Env) {
	var flags commitFlags
	cmd := &cobra.Command{
		Use:   "commit <project-id>",
		Short: "Commit a project now",
		Long: `Ask the daemon to commit a project immediately instead of waiting for the
debounce window. With --milestone the commit carries a message and structured
metadata and is counted as a milestone on the draft branch.

Examples:
  auxin commit my-song
  auxin commit my-song --milestone "Final mix" --bpm 120 --key "A minor" --tag mix`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := flags.metadata()
			if err != nil {
				return err
			}
			client, err := env.DaemonClient()
			if err != nil {
				return err
			}
			resp, err := client.Commit(cmd.Context(), args[0], meta)
			if err != nil {
				return err
			}
			if flags.json {
				return cli.PrintJSON(cmd.OutOrStdout(), resp)
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			switch {
			case resp.Queued:
				p.Println(p.Warn("offline: commit queued for replay"))
			case resp.Skipped:
				p.Println(p.Muted("nothing to commit"))
			default:
				p.Printf("%s %s\n", p.Success("committed"), resp.CommitID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.milestone, "milestone", "m", "", "milestone message")
	cmd.Flags().Float64Var(&flags.bpm, "bpm", 0, "tempo in beats per minute")
	cmd.Flags().IntVar(&flags.sampleRate, "sample-rate", 0, "sample rate in Hz")
	cmd.Flags().StringVar(&flags.key, "key", "", "key signature, e.g. \"A minor\"")
	cmd.Flags().StringSliceVar(&flags.tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringArrayVar(&flags.fields, "field", nil, "application metadata field key=value (repeatable)")
	cmd.Flags().BoolVar(&flags.json, "json", false, "print the result as JSON")
	parent.AddCommand(cmd)
}
