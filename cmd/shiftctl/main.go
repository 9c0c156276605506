// Command shiftctl drives bulk reassignments from the terminal against a
// config-provided credential, without the console or its stores.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cardshift/backend/internal/config"
	"cardshift/backend/internal/logging"
	"cardshift/backend/internal/pipefy"
	"cardshift/backend/internal/services"
	"cardshift/backend/internal/transfer"
)

var (
	flagPipeIDs     []string
	flagSourceEmail string
	flagDestEmail   string
	flagUnassigned  bool
	flagGrantAccess bool
	flagVerify      bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "shiftctl",
		Short:         "Bulk card reassignment for the workflow upstream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&flagPipeIDs, "pipes", nil, "pipe ids to scan (default: all)")

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "List cards whose stage responsible matches a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context())
		},
	}
	searchCmd.Flags().StringVar(&flagSourceEmail, "member", "", "member email to search for")
	searchCmd.Flags().BoolVar(&flagUnassigned, "unassigned", false, "search for cards with no responsible instead")

	transferCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Reassign every matching card to a new responsible",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd.Context())
		},
	}
	transferCmd.Flags().StringVar(&flagSourceEmail, "from", "", "current responsible's email")
	transferCmd.Flags().StringVar(&flagDestEmail, "to", "", "new responsible's email")
	transferCmd.Flags().BoolVar(&flagUnassigned, "unassigned", false, "take over unassigned cards instead")
	transferCmd.Flags().BoolVar(&flagGrantAccess, "grant-access", false, "invite the destination to the first pipe")
	transferCmd.Flags().BoolVar(&flagVerify, "verify", true, "re-fetch cards after the transfer")
	_ = transferCmd.MarkFlagRequired("to")

	root.AddCommand(searchCmd, transferCmd)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newService() (*services.TransferService, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Upstream.Token == "" {
		return nil, fmt.Errorf("upstream.token is required (set UPSTREAM_TOKEN or config.yaml)")
	}

	logger := logging.NewLogger()
	if cfg.LogDebug {
		logger.SetDebug()
	}

	upstream := pipefy.NewClient(&pipefy.Config{
		URL:             cfg.Upstream.URL,
		RequestInterval: cfg.Upstream.RequestInterval,
		MaxRetries:      cfg.Upstream.MaxRetries,
		PageSize:        cfg.Upstream.PageSize,
	}, logger)

	return services.NewTransferService(upstream, nil, nil, nil, cfg, logger), nil
}

func subject() services.SearchSubject {
	return services.SearchSubject{
		Unassigned:  flagUnassigned,
		MemberEmail: flagSourceEmail,
	}
}

func runSearch(ctx context.Context) error {
	if !flagUnassigned && flagSourceEmail == "" {
		return fmt.Errorf("provide --member or --unassigned")
	}

	svc, err := newService()
	if err != nil {
		return err
	}

	cards, _, err := searchWithProgress(ctx, svc, subject())
	if err != nil {
		return err
	}

	for _, card := range cards {
		if card.PipeName != "" {
			fmt.Printf("%s\t%s\t%s / %s\n", card.ID, card.Title, card.PipeName, card.PhaseName)
		} else {
			fmt.Printf("%s\t%s\t%s\n", card.ID, card.Title, card.PhaseName)
		}
	}
	fmt.Printf("%d card(s) found\n", len(cards))
	return nil
}

func runTransfer(ctx context.Context) error {
	if !flagUnassigned && flagSourceEmail == "" {
		return fmt.Errorf("provide --from or --unassigned")
	}

	svc, err := newService()
	if err != nil {
		return err
	}

	cards, pipes, err := searchWithProgress(ctx, svc, subject())
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		fmt.Println("nothing to transfer")
		return nil
	}

	dest, err := svc.ResolveSubject(ctx, services.SearchSubject{MemberEmail: flagDestEmail})
	if err != nil {
		return fmt.Errorf("resolving destination: %w", err)
	}
	var source *pipefy.Member
	if !flagUnassigned {
		source, err = svc.ResolveSubject(ctx, subject())
		if err != nil {
			return fmt.Errorf("resolving source: %w", err)
		}
	}

	params := services.TransferParams{
		Cards:       make(map[string]pipefy.Card, len(cards)),
		Pipes:       pipes,
		Source:      source,
		Dest:        *dest,
		GrantAccess: flagGrantAccess,
		Operator:    "shiftctl",
	}
	for _, card := range cards {
		params.CardIDs = append(params.CardIDs, card.ID.String())
		params.Cards[card.ID.String()] = card
	}

	result, _, err := svc.Transfer(ctx, params, progressPrinter())
	if err != nil {
		return err
	}

	fmt.Printf("transferred %d card(s), %d failed\n", len(result.Succeeded), len(result.Failed))
	for _, f := range result.Failed {
		fmt.Printf("  failed %s (%s): %s\n", f.CardID, f.Title, f.Reason)
	}
	if result.AccessGranted {
		fmt.Println("pipe access granted to", dest.Email)
	}

	if !flagVerify {
		return nil
	}

	items, err := svc.Verify(ctx, result, *dest, progressPrinter())
	if err != nil {
		return err
	}
	confirmed := 0
	for _, item := range items {
		if item.Status == transfer.StatusConfirmed {
			confirmed++
			continue
		}
		fmt.Printf("  %s %s (%s): %s\n", item.Status, item.CardID, item.Title, item.Detail)
	}
	fmt.Printf("verified: %d/%d confirmed\n", confirmed, len(items))
	return nil
}

func searchWithProgress(ctx context.Context, svc *services.TransferService, sub services.SearchSubject) ([]pipefy.Card, []pipefy.Pipe, error) {
	return svc.Search(ctx, flagPipeIDs, sub, progressPrinter())
}

// progressPrinter drains progress events to stderr so piped stdout stays
// machine-readable.
func progressPrinter() chan transfer.Progress {
	events := make(chan transfer.Progress, 16)
	go func() {
		for p := range events {
			switch p.Kind {
			case transfer.EventPhaseDone:
				fmt.Fprintf(os.Stderr, "scanned phase %d/%d (%s), %d card(s) so far\n",
					p.PhaseIndex, p.PhaseTotal, p.PhaseName, p.CardsFound)
			case transfer.EventPipeDone:
				fmt.Fprintf(os.Stderr, "finished pipe %d/%d (%s)\n", p.PipeIndex, p.PipeTotal, p.PipeName)
			case transfer.EventChunkDone:
				fmt.Fprintf(os.Stderr, "chunk %d/%d done: %d ok, %d failed\n",
					p.ChunksDone, p.ChunkTotal, len(p.ChunkSucceeded), len(p.ChunkFailed))
			case transfer.EventVerifyBatchDone:
				fmt.Fprintf(os.Stderr, "verified %d/%d\n", p.Verified, p.ToVerify)
			}
		}
	}()
	return events
}
