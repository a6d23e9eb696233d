package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"limscore/internal/jsonapi"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

// actorFlags selects the principal a command acts as.
type actorFlags struct {
	actor string
	roles []string
	lang  string
}

func (f *actorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.actor, "actor", "system", "principal performing the request")
	cmd.Flags().StringSliceVar(&f.roles, "roles", []string{"Manager"}, "roles granted to the actor")
}

func (f *actorFlags) request() *workflow.Request {
	if f.actor == "system" {
		req := workflow.SystemRequest()
		req.Roles = append([]string(nil), f.roles...)
		return req
	}
	return workflow.NewRequest(f.actor, f.roles...)
}

func newTransitionsCommand(opts *rootOptions) *cobra.Command {
	var flags actorFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "transitions <uid>",
		Short: "List the transitions the actor may perform on an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts.bootstrapOptions(cmd))
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			lang := a.translator.Match(flags.lang)
			req := flags.request()
			ctx = jsonapi.WithLanguage(workflow.WithRequest(ctx, req), lang)
			entries, err := jsonapi.NewTransitionsExtender(a.svc, a.translator).Transitions(ctx, req, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				if entries == nil {
					entries = []jsonapi.TransitionEntry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no transitions available")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%-24s %s\n", e.ID, e.Title)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.lang, "lang", "", "language of the titles, as an Accept-Language value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the transitions as JSON")
	return cmd
}

// errNotApplied is returned when a transition is rejected or skipped.
var errNotApplied = errors.New("transition not applied")

func newDoCommand(opts *rootOptions) *cobra.Command {
	var flags actorFlags
	cmd := &cobra.Command{
		Use:   "do <uid> <action>",
		Short: "Perform a workflow transition on an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts.bootstrapOptions(cmd))
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			req := flags.request()
			uid, action := args[0], strings.TrimSpace(args[1])
			result, err := a.svc.DoActionFor(workflow.WithRequest(ctx, req), req, uid, action)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.Outcome {
			case domain.OutcomeApplied:
				obj, err := a.svc.GetObject(ctx, uid)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s applied (%s)\n", uid, action, formatStates(obj.States))
				return nil
			case domain.OutcomeSkipped:
				fmt.Fprintf(out, "%s: %s skipped\n", uid, action)
			default:
				fmt.Fprintf(out, "%s: %s rejected: %s\n", uid, action, result.Message)
			}
			return fmt.Errorf("%w: %s", errNotApplied, result.Outcome)
		},
	}
	flags.register(cmd)
	return cmd
}

func formatStates(states map[domain.StateVariable]string) string {
	parts := make([]string, 0, len(states))
	for variable, state := range states {
		parts = append(parts, string(variable)+"="+state)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
