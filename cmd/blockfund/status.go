package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blockfund/internal/action"
	"blockfund/internal/domain"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Load the contract state once and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.engine.Bootstrap(cmd.Context()); err != nil {
				logger.Warn("printing partial state", zap.Error(err))
			}
			return printSnapshot(cmd.OutOrStdout(), s.store.Snapshot())
		},
	}
}

func printSnapshot(out io.Writer, snap *domain.SessionSnapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Owner:\t%s\n", snap.Owner)
	fmt.Fprintf(w, "Special wallet:\t%s\n", snap.SpecialWallet)
	fmt.Fprintf(w, "Balance:\t%s ETH\n", snap.ContractBalance.Ether())
	fmt.Fprintf(w, "Collected fees:\t%s ETH\n", snap.CollectedFees.Ether())
	fmt.Fprintf(w, "Campaign fee:\t%s ETH\n", snap.CampaignFee.Ether())
	fmt.Fprintf(w, "Terminated:\t%t\n", snap.Terminated)
	fmt.Fprintf(w, "Identity:\t%s\n", snap.ActingIdentity)
	if snap.HasIdentity() {
		fmt.Fprintf(w, "Banned:\t%t\n", snap.IsBanned)
		fmt.Fprintf(w, "Refund available:\t%t\n", snap.HasFundsToWithdraw)
	}
	fmt.Fprintf(w, "Controls:\t%s\n", sessionControls(action.Controls(snap)))

	sections := []struct {
		name    string
		records []domain.CampaignRecord
	}{
		{"Live", snap.LiveRecords},
		{"Fulfilled", snap.FulfilledRecords},
		{"Canceled", snap.CanceledRecords},
	}
	for _, sec := range sections {
		fmt.Fprintf(w, "\n%s campaigns (%d)\n", sec.name, len(sec.records))
		if len(sec.records) == 0 {
			continue
		}
		fmt.Fprintln(w, "ID\tTITLE\tENTREPRENEUR\tPRICE\tBACKERS\tLEFT\tMINE\tCONTROLS")
		for _, r := range sec.records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				r.CampaignID, r.Title, r.Entrepreneur, r.Price.Ether(),
				r.Backers, r.PledgesLeft, r.CallerPledges,
				campaignControls(action.RecordControls(snap, r)))
		}
	}

	return w.Flush()
}

func sessionControls(c action.SessionControls) string {
	return enabled(map[string]bool{
		"create":    c.CreateCampaign,
		"refund":    c.Refund,
		"withdraw":  c.WithdrawFees,
		"owner":     c.ChangeOwner,
		"ban":       c.BanEntrepreneur,
		"terminate": c.TerminateContract,
	}, "create", "refund", "withdraw", "owner", "ban", "terminate")
}

func campaignControls(c action.CampaignControls) string {
	return enabled(map[string]bool{
		"pledge":  c.Pledge,
		"cancel":  c.Cancel,
		"fulfill": c.Fulfill,
	}, "pledge", "cancel", "fulfill")
}

// enabled joins the names set in flags, in order.
func enabled(flags map[string]bool, order ...string) string {
	var on []string
	for _, name := range order {
		if flags[name] {
			on = append(on, name)
		}
	}
	if len(on) == 0 {
		return "-"
	}
	return strings.Join(on, ",")
}
