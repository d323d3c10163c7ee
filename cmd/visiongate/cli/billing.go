package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/visiongate/visiongate/internal/ledger"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/store"
)

func newBillingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Manage billing periods",
		Long:  "Inspect monthly billing periods and drive their payment state: pending, overdue, paid, or waived.",
	}

	cmd.AddCommand(newBillingListCmd())
	cmd.AddCommand(newBillingMarkPaidCmd())
	cmd.AddCommand(newBillingMarkOverdueCmd())
	cmd.AddCommand(newBillingMarkWaivedCmd())
	cmd.AddCommand(newBillingSweepCmd())
	cmd.AddCommand(newBillingExportCmd())

	return cmd
}

// openLedger opens the store and wraps it in a ledger with a quiet logger.
// The caller must Close the returned store.
func openLedger() (*store.Store, *ledger.Ledger, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return st, ledger.New(st, logger, ledger.Options{}), nil
}

// ---------- billing list ----------

func newBillingListCmd() *cobra.Command {
	var (
		status     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List billing periods",
		Example: `  visiongate billing list
  visiongate billing list --status overdue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBillingList(status, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by payment status (pending, overdue, paid, waived)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runBillingList(status string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	periods, err := listPeriods(st, status)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(periods)
	}

	if len(periods) == 0 {
		fmt.Println("No billing periods found.")
		return nil
	}

	fmt.Printf("%-38s %-8s %-16s %-10s %-10s %-8s %-9s\n",
		"ID", "OWNER", "PERIOD", "REQUESTS", "COST", "CURRENT", "STATUS")
	fmt.Printf("%-38s %-8s %-16s %-10s %-10s %-8s %-9s\n",
		"--", "-----", "------", "--------", "----", "-------", "------")
	for i := range periods {
		p := &periods[i]
		fmt.Printf("%-38s %-8d %-16s %-10d %-10s %-8s %-9s\n",
			p.ID, p.OwnerID, p.PeriodLabel(), p.TotalRequests,
			centsToDollars(p.TotalCostCents), yesNo(p.IsCurrent), p.PaymentStatus)
	}

	return nil
}

func listPeriods(st *store.Store, status string) ([]model.BillingPeriod, error) {
	ctx := context.Background()
	if status == "" {
		periods, err := st.ListPeriods(ctx)
		if err != nil {
			return nil, fmt.Errorf("list periods: %w", err)
		}
		return periods, nil
	}

	ps := model.PaymentStatus(status)
	switch ps {
	case model.PaymentPending, model.PaymentOverdue, model.PaymentPaid, model.PaymentWaived:
	default:
		return nil, fmt.Errorf("unknown payment status %q", status)
	}
	periods, err := st.ListPeriodsByStatus(ctx, ps)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}

func centsToDollars(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// ---------- billing mark-paid ----------

func newBillingMarkPaidCmd() *cobra.Command {
	var (
		amountCents int64
		reference   string
		notes       string
	)

	cmd := &cobra.Command{
		Use:   "mark-paid <period-id>",
		Short: "Mark a closed billing period as paid",
		Example: `  visiongate billing mark-paid 0198b2... --amount-cents 500 --reference INV-7
  visiongate billing mark-paid 0198b2...  # defaults to the accrued total`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBillingMarkPaid(args[0], amountCents, reference, notes)
		},
	}

	cmd.Flags().Int64Var(&amountCents, "amount-cents", 0, "Paid amount in cents (defaults to the period total)")
	cmd.Flags().StringVar(&reference, "reference", "", "Payment reference, e.g. an invoice number")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form payment notes")

	return cmd
}

func runBillingMarkPaid(id string, amountCents int64, reference, notes string) error {
	st, l, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close()

	err = l.MarkPaid(context.Background(), id, amountCents, optional(reference), optional(notes))
	if err != nil {
		return transitionError("mark paid", id, err)
	}

	fmt.Printf("Period %s marked as paid.\n", id)
	return nil
}

// ---------- billing mark-overdue ----------

func newBillingMarkOverdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-overdue <period-id>",
		Short: "Mark a closed pending billing period as overdue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBillingMarkOverdue(args[0])
		},
	}
}

func runBillingMarkOverdue(id string) error {
	st, l, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := l.MarkOverdue(context.Background(), id); err != nil {
		return transitionError("mark overdue", id, err)
	}

	fmt.Printf("Period %s marked as overdue.\n", id)
	return nil
}

// ---------- billing mark-waived ----------

func newBillingMarkWaivedCmd() *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "mark-waived <period-id>",
		Short: "Waive a closed billing period (no payment required)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBillingMarkWaived(args[0], notes)
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Reason for waiving the period")

	return cmd
}

func runBillingMarkWaived(id, notes string) error {
	st, l, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := l.MarkWaived(context.Background(), id, optional(notes)); err != nil {
		return transitionError("mark waived", id, err)
	}

	fmt.Printf("Period %s waived.\n", id)
	return nil
}

// ---------- billing sweep ----------

func newBillingSweepCmd() *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark every closed pending period past the grace window as overdue",
		Long:  "Intended for a cron job: transitions all closed pending periods whose end predates now minus the grace window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBillingSweep(grace)
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 14*24*time.Hour, "Grace window after period end before a period is overdue")

	return cmd
}

func runBillingSweep(grace time.Duration) error {
	st, l, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close()

	marked, err := l.SweepOverdue(context.Background(), grace)
	if err != nil {
		return fmt.Errorf("sweep overdue: %w", err)
	}

	fmt.Printf("Marked %d period(s) as overdue.\n", marked)
	return nil
}

// ---------- billing export ----------

func newBillingExportCmd() *cobra.Command {
	var (
		status string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export billing periods to stdout",
		Long:  "Dump billing periods as YAML or JSON, for invoicing pipelines or spreadsheets.",
		Example: `  visiongate billing export --status pending > pending.yaml
  visiongate billing export --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBillingExport(status, format)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by payment status (pending, overdue, paid, waived)")
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml or json")

	return cmd
}

func runBillingExport(status, format string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	periods, err := listPeriods(st, status)
	if err != nil {
		return err
	}

	type exportRow struct {
		PeriodID      string  `json:"period_id" yaml:"period_id"`
		OwnerID       int64   `json:"owner_id" yaml:"owner_id"`
		Period        string  `json:"period" yaml:"period"`
		Requests      int64   `json:"requests" yaml:"requests"`
		CostCents     int64   `json:"cost_cents" yaml:"cost_cents"`
		PaymentStatus string  `json:"payment_status" yaml:"payment_status"`
		PaidCents     *int64  `json:"paid_cents,omitempty" yaml:"paid_cents,omitempty"`
		PaymentRef    *string `json:"payment_reference,omitempty" yaml:"payment_reference,omitempty"`
	}

	rows := make([]exportRow, len(periods))
	for i := range periods {
		p := &periods[i]
		rows[i] = exportRow{
			PeriodID:      p.ID,
			OwnerID:       p.OwnerID,
			Period:        p.PeriodLabel(),
			Requests:      p.TotalRequests,
			CostCents:     p.TotalCostCents,
			PaymentStatus: string(p.PaymentStatus),
			PaidCents:     p.PaidAmountCents,
			PaymentRef:    p.PaymentRef,
		}
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(rows)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}

// ---------- shared helpers ----------

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func transitionError(op, id string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("no billing period found with ID %q", id)
	case errors.Is(err, ledger.ErrIllegalTransition):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
