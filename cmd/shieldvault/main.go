package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/retention"
)

var (
	catalogPath string
	output      string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shieldvault: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shieldvault",
		Short: "ShieldVault operator CLI",
		Long: `ShieldVault CLI inspects retention policy catalogs: list the policies, resolve the
policy a party would get for a transaction, and compute required retention for a document.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&catalogPath, "catalog", "c", os.Getenv("SHIELDVAULT_CATALOG_PATH"), "Policy catalog YAML (defaults to the built-in catalog)")
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.AddCommand(
		newPolicyCmd(),
		newRetentionCmd(),
		newCatalogCmd(),
	)
	return cmd
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect retention policies",
	}
	cmd.AddCommand(newPolicyListCmd(), newPolicyShowCmd(), newPolicyResolveCmd())
	return cmd
}

func newPolicyListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog policies in resolution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := retention.Load(catalogPath)
			if err != nil {
				return err
			}
			policies := catalog.Policies()
			if role != "" {
				policies = catalog.ForRole(model.Role(role))
			}
			return printPolicies(cmd.OutOrStdout(), policies)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Only list policies of this role")
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <policy-id>",
		Short: "Show one policy by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := retention.Load(catalogPath)
			if err != nil {
				return err
			}
			p, err := catalog.Lookup(args[0])
			if err != nil {
				return err
			}
			return printPolicies(cmd.OutOrStdout(), []retention.Policy{p})
		},
	}
}

type attrFlags struct {
	role       string
	collateral string
	request    string
	instrument string
}

func (a *attrFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.role, "role", "", "Party role: lender, broker, borrower or vendor")
	cmd.Flags().StringVar(&a.collateral, "collateral", "", "Collateral type")
	cmd.Flags().StringVar(&a.request, "request", "", "Request type")
	cmd.Flags().StringVar(&a.instrument, "instrument", "", "Instrument type")
	_ = cmd.MarkFlagRequired("role")
}

func (a *attrFlags) resolve() (retention.Policy, error) {
	catalog, err := retention.Load(catalogPath)
	if err != nil {
		return retention.Policy{}, err
	}
	return retention.NewResolver(catalog).Resolve(model.Role(a.role), retention.Attributes{
		CollateralType: a.collateral,
		RequestType:    a.request,
		InstrumentType: a.instrument,
	})
}

func newPolicyResolveCmd() *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the policy for a role and transaction attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := attrs.resolve()
			if err != nil {
				return err
			}
			return printPolicies(cmd.OutOrStdout(), []retention.Policy{p})
		},
	}
	attrs.register(cmd)
	return cmd
}

func newRetentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Compute document retention",
	}
	cmd.AddCommand(newRetentionDaysCmd())
	return cmd
}

func newRetentionDaysCmd() *cobra.Command {
	var (
		attrs    attrFlags
		category string
	)
	cmd := &cobra.Command{
		Use:   "days <document-name>",
		Short: "Print the retention days required for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := attrs.resolve()
			if err != nil {
				return err
			}
			doc := model.Document{Name: args[0], Category: category}
			result := map[string]any{
				"document":      args[0],
				"policy":        p.ID,
				"matches":       retention.Matches(doc, p),
				"retentionDays": retention.RequiredRetentionDays(doc, p),
			}
			if output == "table" {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", args[0], p.ID, result["retentionDays"])
				return err
			}
			return encode(cmd.OutOrStdout(), result)
		},
	}
	attrs.register(cmd)
	cmd.Flags().StringVar(&category, "category", "", "Document category")
	return cmd
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with policy catalog files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a catalog file for unknown keys, duplicate ids and bad roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := retention.LoadCatalogFile(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d policies OK\n", args[0], len(catalog.Policies()))
			return err
		},
	})
	return cmd
}

func printPolicies(w io.Writer, policies []retention.Policy) error {
	if output != "table" {
		return encode(w, policies)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tDAYS\tSTRICT\tREQUIRED")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\n", p.ID, p.Role, p.RetentionDays, p.Strict, len(p.RequiredDocuments))
	}
	return tw.Flush()
}

func encode(w io.Writer, v any) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
