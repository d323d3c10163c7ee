package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/store"
)

func newOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage account owners",
		Long:  "Create, list, verify, and deactivate the customer accounts that hold API tokens.",
	}

	cmd.AddCommand(newOwnerCreateCmd())
	cmd.AddCommand(newOwnerListCmd())
	cmd.AddCommand(newOwnerVerifyCmd())
	cmd.AddCommand(newOwnerDeactivateCmd())

	return cmd
}

// ---------- owner create ----------

func newOwnerCreateCmd() *cobra.Command {
	var (
		email    string
		name     string
		verified bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new account owner",
		Example: `  visiongate owner create --email customer@example.com --name "Acme Corp"
  visiongate owner create --email customer@example.com --verified`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOwnerCreate(email, name, verified)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Owner display name")
	cmd.Flags().BoolVar(&verified, "verified", false, "Mark the email as verified immediately")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runOwnerCreate(email, name string, verified bool) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if existing, err := st.GetOwnerByEmail(ctx, email); err == nil && existing != nil {
		return fmt.Errorf("an owner with email %q already exists", email)
	}

	owner := &model.Owner{
		Email:    email,
		Name:     name,
		IsActive: true,
	}
	if verified {
		now := time.Now().UTC()
		owner.EmailVerifiedAt = &now
	}

	if err := st.CreateOwner(ctx, owner); err != nil {
		return fmt.Errorf("create owner: %w", err)
	}

	fmt.Printf("Created owner %q (ID %d)\n", email, owner.ID)
	if !verified {
		fmt.Println("  Email is unverified - tokens will not authenticate until it is.")
		fmt.Printf("  Verify with: visiongate owner verify %d\n", owner.ID)
	}
	return nil
}

// ---------- owner list ----------

func newOwnerListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all account owners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOwnerList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runOwnerList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	owners, err := st.ListOwners(context.Background())
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(owners)
	}

	if len(owners) == 0 {
		fmt.Println("No owners configured. Use 'visiongate owner create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-30s %-24s %-8s %-10s\n", "ID", "EMAIL", "NAME", "ACTIVE", "VERIFIED")
	fmt.Printf("%-6s %-30s %-24s %-8s %-10s\n", "--", "-----", "----", "------", "--------")
	for _, o := range owners {
		fmt.Printf("%-6d %-30s %-24s %-8s %-10s\n",
			o.ID, o.Email, o.Name, yesNo(o.IsActive), yesNo(o.EmailVerifiedAt != nil))
	}

	return nil
}

// ---------- owner verify ----------

func newOwnerVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <owner-id>",
		Short: "Mark an owner's email address as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid owner ID: %q", args[0])
			}
			return runOwnerVerify(id)
		},
	}
}

func runOwnerVerify(id int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.MarkOwnerEmailVerified(context.Background(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no owner found with ID %d", id)
		}
		return fmt.Errorf("verify owner: %w", err)
	}

	fmt.Printf("Owner %d marked as verified.\n", id)
	return nil
}

// ---------- owner deactivate ----------

func newOwnerDeactivateCmd() *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "deactivate <owner-id>",
		Short: "Deactivate an owner account",
		Long:  "Deactivate an owner. All of the owner's tokens stop authenticating once any cached validations expire.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid owner ID: %q", args[0])
			}
			return runOwnerSetActive(id, activate)
		},
	}

	cmd.Flags().BoolVar(&activate, "undo", false, "Reactivate instead of deactivating")

	return cmd
}

func runOwnerSetActive(id int64, active bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.SetOwnerActive(context.Background(), id, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no owner found with ID %d", id)
		}
		return fmt.Errorf("update owner: %w", err)
	}

	if active {
		fmt.Printf("Owner %d reactivated.\n", id)
	} else {
		fmt.Printf("Owner %d deactivated.\n", id)
	}
	return nil
}
