package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atmx/auction-pool/internal/agent"
	"github.com/atmx/auction-pool/internal/api"
	"github.com/atmx/auction-pool/internal/model"
)

func poolCommands() []*cobra.Command {
	var denom string
	deposit := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit reference-denom funds into the pool",
		Args:  cobra.ExactArgs(1),
		RunE: command(func(ctx context.Context, c *api.Client, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			res, err := c.Deposit(ctx, sender, []model.Coin{{Denom: denom, Amount: amount}})
			return printResult(res, err)
		}),
	}
	deposit.Flags().StringVar(&denom, "denom", "inj", "denom of the attached funds")

	withdraw := &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Withdraw principal plus pending rewards",
		Args:  cobra.ExactArgs(1),
		RunE: command(func(ctx context.Context, c *api.Client, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			res, err := c.Withdraw(ctx, sender, amount)
			return printResult(res, err)
		}),
	}

	harvest := &cobra.Command{
		Use:   "harvest",
		Short: "Collect pending rewards",
		Args:  cobra.NoArgs,
		RunE: command(func(ctx context.Context, c *api.Client, _ []string) error {
			res, err := c.Harvest(ctx, sender)
			return printResult(res, err)
		}),
	}
	return []*cobra.Command{deposit, withdraw, harvest}
}

func bidCommands() []*cobra.Command {
	bid := &cobra.Command{
		Use:   "bid <round>",
		Short: "Bid the minimum next bid in the given round",
		Args:  cobra.ExactArgs(1),
		RunE: command(func(ctx context.Context, c *api.Client, args []string) error {
			round, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("round must be an unsigned integer: %w", err)
			}
			res, err := c.PlaceBid(ctx, sender, round)
			return printResult(res, err)
		}),
	}

	settle := &cobra.Command{
		Use:   "settle",
		Short: "Settle the stored bid attempt once its round has finished",
		Args:  cobra.NoArgs,
		RunE: command(func(ctx context.Context, c *api.Client, _ []string) error {
			res, err := c.Settle(ctx, sender)
			return printResult(res, err)
		}),
	}

	clearBid := &cobra.Command{
		Use:   "clear-bid",
		Short: "Drop an outbid attempt in the current round",
		Args:  cobra.NoArgs,
		RunE: command(func(ctx context.Context, c *api.Client, _ []string) error {
			res, err := c.ClearCurrentBid(ctx, sender)
			return printResult(res, err)
		}),
	}
	return []*cobra.Command{bid, settle, clearBid}
}

func adminCommands() []*cobra.Command {
	swap := &cobra.Command{
		Use:   "manual-swap <amount> <market-id> <asset>",
		Short: "Sell a held asset on a spot market (admin)",
		Args:  cobra.ExactArgs(3),
		RunE: command(func(ctx context.Context, c *api.Client, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			res, err := c.ManualSwap(ctx, sender, amount, args[1], args[2])
			return printResult(res, err)
		}),
	}

	setRoute := &cobra.Command{
		Use:   "set-route <source> <target> <market-id>",
		Short: "Register the market that swaps a denom pair (admin)",
		Args:  cobra.ExactArgs(3),
		RunE: command(func(ctx context.Context, c *api.Client, args []string) error {
			res, err := c.SetRoute(ctx, sender, args[0], args[1], args[2])
			return printResult(res, err)
		}),
	}

	deleteRoute := &cobra.Command{
		Use:   "delete-route <source> <target>",
		Short: "Remove a registered route (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: command(func(ctx context.Context, c *api.Client, args []string) error {
			res, err := c.DeleteRoute(ctx, sender, args[0], args[1])
			return printResult(res, err)
		}),
	}

	updateConfig := &cobra.Command{
		Use:   "update-config <file.yaml>",
		Short: "Replace the pool config from a YAML file (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: command(func(ctx context.Context, c *api.Client, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var cfg model.Config
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			res, err := c.UpdateConfig(ctx, sender, cfg)
			return printResult(res, err)
		}),
	}
	return []*cobra.Command{swap, setRoute, deleteRoute, updateConfig}
}

func queryCommands() []*cobra.Command {
	state := &cobra.Command{
		Use:   "state",
		Short: "Show the global reward ledger",
		Args:  cobra.NoArgs,
		RunE: query(func(ctx context.Context, c *api.Client, _ []string) error {
			g, err := c.State(ctx)
			if err != nil {
				return err
			}
			printKV(map[string]string{
				"index":                g.Index.String(),
				"profit_to_distribute": g.ProfitToDistribute.String(),
				"accumulated_profit":   g.AccumulatedProfit.String(),
				"total_supply":         g.TotalSupply.String(),
			})
			return nil
		}),
	}

	showConfig := &cobra.Command{
		Use:   "config",
		Short: "Print the pool config as YAML",
		Args:  cobra.NoArgs,
		RunE: query(func(ctx context.Context, c *api.Client, _ []string) error {
			cfg, err := c.Config(ctx)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		}),
	}

	accounts := &cobra.Command{
		Use:   "accounts [address]",
		Short: "List depositor accounts, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: query(func(ctx context.Context, c *api.Client, args []string) error {
			var accs []model.UserAccount
			if len(args) == 1 {
				acc, err := c.User(ctx, args[0])
				if err != nil {
					return err
				}
				accs = []model.UserAccount{*acc}
			} else {
				var err error
				if accs, err = c.Accounts(ctx); err != nil {
					return err
				}
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Address", "Deposited", "Index", "Pending")
			for _, a := range accs {
				table.Append(a.Address, a.Deposited.String(), a.Index.String(), a.PendingReward.String())
			}
			table.Render()
			return nil
		}),
	}

	basket := &cobra.Command{
		Use:   "basket",
		Short: "Show the current auction basket",
		Args:  cobra.NoArgs,
		RunE: query(func(ctx context.Context, c *api.Client, _ []string) error {
			b, err := c.CurrentBasket(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("round %d, highest bid %s by %q, closes %d\n", b.Round, b.HighestBid, b.HighestBidder, b.ClosingTime)
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Denom", "Amount")
			for _, coin := range b.Basket {
				table.Append(coin.Denom, coin.Amount.String())
			}
			table.Render()
			return nil
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the bid lifecycle phase",
		Args:  cobra.NoArgs,
		RunE: query(func(ctx context.Context, c *api.Client, _ []string) error {
			s, err := c.BidStatus(ctx)
			if err != nil {
				return err
			}
			kv := map[string]string{"phase": string(s.Phase), "leading": strconv.FormatBool(s.Leading)}
			if s.Attempt != nil {
				kv["round"] = strconv.FormatUint(s.Attempt.Round, 10)
				kv["amount"] = s.Attempt.Amount.String()
				kv["submitted_by"] = s.Attempt.SubmittedBy
			}
			printKV(kv)
			return nil
		}),
	}

	simulate := &cobra.Command{
		Use:   "simulate <amount> <market-id> <asset>",
		Short: "Quote a market order against the current book",
		Args:  cobra.ExactArgs(3),
		RunE: query(func(ctx context.Context, c *api.Client, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			q, err := c.SimulateSwap(ctx, amount, args[1], args[2])
			if err != nil {
				return err
			}
			printKV(map[string]string{
				"side":        string(q.Side),
				"input":       q.Input.String(),
				"output":      q.Output.String(),
				"quantity":    q.Quantity.String(),
				"worst_price": q.WorstPrice.String(),
				"fee_rate":    q.FeeRate.String(),
			})
			return nil
		}),
	}

	value := &cobra.Command{
		Use:   "valuation",
		Short: "Value the current basket with both strategies",
		Args:  cobra.NoArgs,
		RunE: query(func(ctx context.Context, c *api.Client, _ []string) error {
			v, err := c.Valuation(ctx)
			if err != nil {
				return err
			}
			printKV(map[string]string{"exchange": v.Exchange.String(), "router": v.Router.String()})
			return nil
		}),
	}

	maxDeposit := &cobra.Command{
		Use:   "max-deposit",
		Short: "Show how much more the pool accepts",
		Args:  cobra.NoArgs,
		RunE: query(func(ctx context.Context, c *api.Client, _ []string) error {
			m, err := c.MaxDeposit(ctx)
			if err != nil {
				return err
			}
			printKV(map[string]string{
				"max_tokens":   m.MaxTokens.String(),
				"total_supply": m.TotalSupply.String(),
				"available":    m.Available.String(),
			})
			return nil
		}),
	}

	routes := &cobra.Command{
		Use:   "routes",
		Short: "List registered swap routes",
		Args:  cobra.NoArgs,
		RunE: query(func(ctx context.Context, c *api.Client, _ []string) error {
			rs, err := c.Routes(ctx)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Source", "Target", "Market")
			for _, r := range rs {
				table.Append(r.SourceDenom, r.TargetDenom, r.MarketID)
			}
			table.Render()
			return nil
		}),
	}

	compensations := &cobra.Command{
		Use:   "compensations",
		Short: "List host effects whose ledger commit failed",
		Args:  cobra.NoArgs,
		RunE: query(func(ctx context.Context, c *api.Client, _ []string) error {
			comps, err := c.Compensations(ctx)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("ID", "Command", "Sender", "Recorded", "Messages", "Error")
			for _, comp := range comps {
				table.Append(comp.ID, comp.Command, comp.Sender, comp.RecordedAt.Format(time.RFC3339), string(comp.Messages), comp.Error)
			}
			table.Render()
			return nil
		}),
	}

	return []*cobra.Command{state, showConfig, accounts, basket, status, simulate, value, maxDeposit, routes, compensations}
}

func tokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Sign a bearer token for subject with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}
			tok, err := api.IssueToken(secret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not a decimal: %w", s, err)
	}
	return amount, nil
}

// printResult renders a committed invocation: its attributes, then its events.
func printResult(res *agent.Result, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("%s committed (%s, %d steps)\n", res.Command, res.ID, res.Steps)
	printKV(res.Attributes)
	for _, ev := range res.Events {
		fmt.Printf("event %s\n", ev.Type)
		printKV(ev.Attributes)
	}
	return nil
}

func printKV(kv map[string]string) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Key", "Value")
	for _, k := range keys {
		table.Append(k, kv[k])
	}
	table.Render()
}
