package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/internal/reqverify"
	"github.com/spf13/cobra"
)

type verifyReqsFlags struct {
	source   string
	lockfile string
	resolver string
	offline  bool
}

func newVerifyReqsCommand() *cobra.Command {
	flags := &verifyReqsFlags{}

	cmd := &cobra.Command{
		Use:   "verify-reqs",
		Short: "Check that the pinned lockfile matches its source manifest",
		Long: `Regenerate the lockfile from the source manifest and compare it with the
committed one. A mismatch prints a unified diff to stderr and exits 1.

With --offline the resolver is not run; the lockfile is only checked for
unpinned or unhashed entries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				res *reqverify.Result
				err error
			)
			if flags.offline {
				res, err = reqverify.CheckPinned(flags.lockfile)
			} else {
				res, err = reqverify.Verify(cmd.Context(), reqverify.Options{
					Source:         flags.source,
					Lockfile:       flags.lockfile,
					Resolver:       flags.resolver,
					ResolverOutput: cmd.ErrOrStderr(),
				})
			}

			if errors.Is(err, reqverify.ErrLockfileMismatch) {
				fmt.Fprint(cmd.ErrOrStderr(), res.Diff)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&flags.source, "source", reqverify.DefaultSource, "source manifest")
	cmd.Flags().StringVar(&flags.lockfile, "lockfile", reqverify.DefaultLockfile, "committed lockfile")
	cmd.Flags().StringVar(&flags.resolver, "resolver", reqverify.DefaultResolver, "resolver command; {source} and {output} are substituted")
	cmd.Flags().BoolVar(&flags.offline, "offline", false, "only check that every entry is pinned")

	return cmd
}
