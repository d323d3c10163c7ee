package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/visiongate/visiongate/internal/auth"
	"github.com/visiongate/visiongate/internal/store"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
		Long:  "Issue, list, and revoke the bearer tokens owners use to authenticate solve requests.",
	}

	cmd.AddCommand(newTokenIssueCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenRevokeCmd())

	return cmd
}

// ---------- token issue ----------

func newTokenIssueCmd() *cobra.Command {
	var (
		ownerID int64
		name    string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new API token for an owner",
		Long:  "Generate a new bearer token. The plaintext is shown once and cannot be retrieved again.",
		Example: `  visiongate token issue --owner 1 --name "CI pipeline"
  visiongate token issue --owner 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenIssue(ownerID, name)
		},
	}

	cmd.Flags().Int64Var(&ownerID, "owner", 0, "Owner ID to bind the token to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable label for the token")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runTokenIssue(ownerID int64, name string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	owner, err := st.GetOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no owner found with ID %d", ownerID)
		}
		return fmt.Errorf("get owner: %w", err)
	}

	raw, token, err := auth.Issue(ctx, st, owner.ID, name)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println("Token issued:")
	fmt.Println()
	fmt.Printf("  Token:       %s\n", raw)
	fmt.Printf("  ID:          %s\n", token.ID)
	fmt.Printf("  Fingerprint: %s\n", token.Fingerprint)
	fmt.Printf("  Owner:       %s (ID %d)\n", owner.Email, owner.ID)
	if name != "" {
		fmt.Printf("  Name:        %s\n", name)
	}
	fmt.Println()
	fmt.Println("  Save this token now - it cannot be retrieved again.")
	if !owner.Eligible() {
		fmt.Println()
		fmt.Println("  Warning: the owner is inactive or unverified, so this token")
		fmt.Println("  will not authenticate until the account is eligible.")
	}
	return nil
}

// ---------- token list ----------

func newTokenListCmd() *cobra.Command {
	var (
		ownerID    int64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List an owner's API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenList(ownerID, jsonOutput)
		},
	}

	cmd.Flags().Int64Var(&ownerID, "owner", 0, "Owner ID (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runTokenList(ownerID int64, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tokens, err := st.ListTokensByOwner(context.Background(), ownerID)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tokens)
	}

	if len(tokens) == 0 {
		fmt.Printf("Owner %d has no tokens. Use 'visiongate token issue --owner %d' to create one.\n", ownerID, ownerID)
		return nil
	}

	fmt.Printf("%-38s %-14s %-24s %-8s\n", "ID", "FINGERPRINT", "NAME", "REVOKED")
	fmt.Printf("%-38s %-14s %-24s %-8s\n", "--", "-----------", "----", "-------")
	for i := range tokens {
		tok := &tokens[i]
		fmt.Printf("%-38s %-14s %-24s %-8s\n", tok.ID, tok.Fingerprint, tok.Name, yesNo(tok.Revoked()))
	}

	return nil
}

// ---------- token revoke ----------

func newTokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke an API token by its ID",
		Long:  "Revoke a token. Requests with it fail once any cached validation expires.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenRevoke(args[0])
		},
	}
}

func runTokenRevoke(id string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.RevokeToken(context.Background(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("no token found with ID %q", id)
		case errors.Is(err, store.ErrAlreadyRevoked):
			return fmt.Errorf("token %q is already revoked", id)
		}
		return fmt.Errorf("revoke token: %w", err)
	}

	fmt.Printf("Revoked token %q\n", id)
	return nil
}
