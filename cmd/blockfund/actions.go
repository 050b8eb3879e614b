package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blockfund/internal/action"
	"blockfund/internal/domain"
)

// actionCmd builds a one-shot command that bootstraps a session and runs do.
func actionCmd(use, short string, args cobra.PositionalArgs, do func(ctx context.Context, g *action.Gateway, args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.engine.Bootstrap(ctx); err != nil {
				logger.Warn("guards run against partial state", zap.Error(err))
			}

			tx, err := do(ctx, s.actions, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tx)
			return nil
		},
	}
}

func campaignArg(arg string) (domain.CampaignID, error) {
	id, err := domain.ParseCampaignID(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: campaign id %q", action.ErrPrecondition, arg)
	}
	return id, nil
}

func newActionCmds() []*cobra.Command {
	return []*cobra.Command{
		actionCmd("create <title> <cost-eth> <pledges>", "Create a campaign", cobra.ExactArgs(3),
			func(ctx context.Context, g *action.Gateway, args []string) (string, error) {
				return g.CreateCampaign(ctx, args[0], args[1], args[2])
			}),
		actionCmd("pledge <campaign-id>", "Pledge once to a campaign", cobra.ExactArgs(1),
			func(ctx context.Context, g *action.Gateway, args []string) (string, error) {
				id, err := campaignArg(args[0])
				if err != nil {
					return "", err
				}
				return g.Pledge(ctx, id)
			}),
		actionCmd("fulfill <campaign-id>", "Complete a fully pledged campaign", cobra.ExactArgs(1),
			func(ctx context.Context, g *action.Gateway, args []string) (string, error) {
				id, err := campaignArg(args[0])
				if err != nil {
					return "", err
				}
				return g.Fulfill(ctx, id)
			}),
		actionCmd("cancel <campaign-id>", "Cancel a campaign", cobra.ExactArgs(1),
			func(ctx context.Context, g *action.Gateway, args []string) (string, error) {
				id, err := campaignArg(args[0])
				if err != nil {
					return "", err
				}
				return g.Cancel(ctx, id)
			}),
		actionCmd("refund", "Withdraw pending refunds", cobra.NoArgs,
			func(ctx context.Context, g *action.Gateway, _ []string) (string, error) {
				return g.Refund(ctx)
			}),
		actionCmd("withdraw-fees", "Withdraw collected platform fees", cobra.NoArgs,
			func(ctx context.Context, g *action.Gateway, _ []string) (string, error) {
				return g.WithdrawFees(ctx)
			}),
		actionCmd("change-owner <address>", "Transfer contract ownership", cobra.ExactArgs(1),
			func(ctx context.Context, g *action.Gateway, args []string) (string, error) {
				return g.ChangeOwner(ctx, args[0])
			}),
		actionCmd("ban <address>", "Ban an entrepreneur", cobra.ExactArgs(1),
			func(ctx context.Context, g *action.Gateway, args []string) (string, error) {
				return g.BanEntrepreneur(ctx, args[0])
			}),
		actionCmd("terminate", "Terminate the contract", cobra.NoArgs,
			func(ctx context.Context, g *action.Gateway, _ []string) (string, error) {
				return g.TerminateContract(ctx)
			}),
	}
}
