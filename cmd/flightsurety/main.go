package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flightsurety/internal/app"
	"flightsurety/internal/config"
	"flightsurety/internal/db"
	"flightsurety/internal/domain"
	"flightsurety/internal/engine"
	"flightsurety/internal/events"
	"flightsurety/internal/migrate"
	"flightsurety/internal/observability"
	"flightsurety/internal/oraclesim"
	"flightsurety/internal/repo"
	"flightsurety/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "flightsurety",
	Short: "FlightSurety CLI",
	Long: `FlightSurety runs a consortium of airlines selling flight delay insurance.
- Airlines join by bootstrap admission or by a vote of funded members, then fund themselves.
- Funded airlines register flights; passengers insure them up to the premium cap.
- Oracles answer status requests; once enough agree the flight status is settled
  and a late-airline result credits every insured passenger.
- Passengers withdraw their credit. The owner can pause every state change.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLIGHTSURETY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("caller", "", "identity to act as")
	rootCmd.PersistentFlags().String("config", "", "config file used by install (default <workspace>/flightsurety.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
	for _, name := range []string{"workspace", "json", "caller", "config", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(installCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(guardCmd())
	rootCmd.AddCommand(airlineCmd())
	rootCmd.AddCommand(flightCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(oracleCmd())
	rootCmd.AddCommand(oraclesCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// exitCode maps engine error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch engine.KindOf(err) {
	case engine.KindNotOperational:
		return 3
	case engine.KindUnauthorized:
		return 4
	case engine.KindPreconditionFailed:
		return 5
	case engine.KindCapacityExceeded:
		return 6
	case engine.KindIdempotency:
		return 7
	case engine.KindNoCredit:
		return 8
	default:
		return 1
	}
}

func caller() (string, error) {
	c := strings.TrimSpace(viper.GetString("caller"))
	if c == "" {
		return "", errors.New("--caller (or FLIGHTSURETY_CALLER) required")
	}
	return c, nil
}

func logger(cfg *config.Config) zerolog.Logger {
	level := viper.GetString("log-level")
	format := ""
	if cfg != nil {
		if level == "" {
			level = cfg.Log.Level
		}
		format = cfg.Log.Format
	}
	return observability.InitLogger("flightsurety", level, format)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(ctx, repo.Repo{DB: conn})
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Logger = logger(cfg)
	return fn(ctx, e)
}

func installCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Create the ledger from the workspace config",
		Long:  "Reads --config, or flightsurety.yml/flightsurety.toml in the workspace, or the default template for --owner. Installing an existing ledger keeps its config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := installConfig(owner)
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			installed, fresh, err := app.Install(cmd.Context(), conn, cfg)
			if err != nil {
				return err
			}
			out := map[string]any{
				"db":              db.Path(workspace),
				"fresh":           fresh,
				"owner":           installed.Platform.Owner,
				"genesis_airline": installed.Platform.GenesisAirline.Address,
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			if fresh {
				fmt.Printf("Installed ledger at %s (owner %s, genesis airline %s)\n", out["db"], out["owner"], out["genesis_airline"])
			} else {
				fmt.Printf("Ledger at %s already installed; kept its config\n", out["db"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner identity when no config file exists (defaults to --caller)")
	return cmd
}

func installConfig(owner string) (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil || cfg != nil {
		return cfg, err
	}
	if owner == "" {
		owner = strings.TrimSpace(viper.GetString("caller"))
	}
	if owner == "" {
		return nil, errors.New("no config file found; pass --owner or run flightsurety config init")
	}
	return config.Default(owner), nil
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect platform config",
		Long:  "The config fixes the economics: bootstrap threshold, minimum funding, premium cap, payout ratio, oracle fee and consensus threshold. It is copied into the ledger at install.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var owner string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default flightsurety.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = strings.TrimSpace(viper.GetString("caller"))
			}
			if owner == "" {
				return errors.New("--owner required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(owner)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "platform owner identity")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show installed config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if path := viper.GetString("config"); path != "" {
				_, err = config.FromFile(path)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func guardCmd() *cobra.Command {
	g := &cobra.Command{
		Use:   "guard",
		Short: "Operational status",
	}
	g.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the platform accepts state changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printGuard(ctx, e)
			})
		},
	})
	g.AddCommand(&cobra.Command{
		Use:       "set on|off",
		Short:     "Pause or resume the platform (owner only)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			operational, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetOperatingStatus(ctx, c, operational); err != nil {
					return err
				}
				return printGuard(ctx, e)
			})
		},
	})
	return g
}

func parseSwitch(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "true", "resume":
		return true, nil
	case "off", "false", "pause":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", raw)
}

func printGuard(ctx context.Context, e engine.Engine) error {
	op, err := e.IsOperational(ctx)
	if err != nil {
		return err
	}
	owner, err := e.Owner(ctx)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"operational": op, "owner": owner})
	}
	state := "operational"
	if !op {
		state = "paused"
	}
	fmt.Printf("Platform %s (owner %s)\n", state, owner)
	return nil
}

func airlineCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "airline",
		Short: "Consortium membership",
	}
	a.AddCommand(airlineProposeCmd())
	a.AddCommand(airlineFundCmd())
	a.AddCommand(airlineShowCmd())
	a.AddCommand(airlineListCmd())
	return a
}

func airlineProposeCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "propose <address>",
		Short: "Propose an airline, or vote for a pending one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ProposeAirline(ctx, args[0], name, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Admitted {
					fmt.Printf("%s admitted\n", res.Airline.Address)
				} else {
					fmt.Printf("%s has %d of %d votes\n", res.Airline.Address, res.Votes, res.Quorum)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "airline display name")
	return cmd
}

func airlineFundCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "fund <address>",
		Short: "Pay the airline's membership funding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			a, err := domain.ParseAmount(amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				airline, err := e.FundAirline(ctx, args[0], a, c)
				if err != nil {
					return err
				}
				return printAirlines([]domain.Airline{airline})
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "10", "amount in whole units")
	return cmd
}

func airlineShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <address>",
		Short: "Show an airline and its pending voters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAirline(ctx, args[0])
				if err != nil {
					return err
				}
				voters, err := e.PendingVotes(ctx, a.Address)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"airline": a, "voters": voters})
				}
				if err := printAirlines([]domain.Airline{a}); err != nil {
					return err
				}
				if len(voters) > 0 {
					fmt.Println("Voters:", strings.Join(voters, ", "))
				}
				return nil
			})
		},
	}
}

func airlineListCmd() *cobra.Command {
	var registered bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List airlines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAirlines(ctx, registered)
				if err != nil {
					return err
				}
				return printAirlines(items)
			})
		},
	}
	cmd.Flags().BoolVar(&registered, "registered", false, "only admitted airlines")
	return cmd
}

func printAirlines(items []domain.Airline) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Address", "Name", "Registered", "Funded", "Funds", "Votes"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.Address, a.Name, a.Registered, a.Funded, a.Funds, a.Votes})
	}
	fmt.Println(tw.Render())
	return nil
}

func flightCmd() *cobra.Command {
	f := &cobra.Command{
		Use:   "flight",
		Short: "Flights and status requests",
	}
	f.AddCommand(flightRegisterCmd())
	f.AddCommand(flightShowCmd())
	f.AddCommand(flightListCmd())
	f.AddCommand(flightFetchStatusCmd())
	return f
}

func flightArgs(args []string) (string, string, int64, error) {
	dep, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid departure %q: %w", args[2], err)
	}
	return args[0], args[1], dep, nil
}

func flightRegisterCmd() *cobra.Command {
	var departure int64
	cmd := &cobra.Command{
		Use:   "register <code>",
		Short: "Register a flight for the calling airline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			if departure <= 0 {
				return errors.New("--departure (unix seconds) required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.RegisterFlight(ctx, c, args[0], departure)
				if err != nil {
					return err
				}
				return printFlights([]domain.Flight{f})
			})
		},
	}
	cmd.Flags().Int64Var(&departure, "departure", 0, "departure time in unix seconds")
	return cmd
}

func flightShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <airline> <code> <departure>",
		Short: "Show a flight",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			airline, code, dep, err := flightArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.GetFlight(ctx, airline, code, dep)
				if err != nil {
					return err
				}
				return printFlights([]domain.Flight{f})
			})
		},
	}
}

func flightListCmd() *cobra.Command {
	var airline string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListFlights(ctx, airline)
				if err != nil {
					return err
				}
				return printFlights(items)
			})
		},
	}
	cmd.Flags().StringVar(&airline, "airline", "", "only this airline's flights")
	return cmd
}

func flightFetchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-status <airline> <code> <departure>",
		Short: "Ask oracles for the flight status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			airline, code, dep, err := flightArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.FetchFlightStatus(ctx, c, airline, code, dep)
				if err != nil {
					return err
				}
				return printRequests([]domain.OracleRequest{req})
			})
		},
	}
}

func printFlights(items []domain.Flight) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Airline", "Code", "Departure", "Status", "Updated"})
	for _, f := range items {
		updated := ""
		if f.StatusUpdatedAt != nil {
			updated = *f.StatusUpdatedAt
		}
		tw.AppendRow(table.Row{f.Airline, f.Code, time.Unix(f.Departure, 0).UTC().Format(time.RFC3339), f.Status, updated})
	}
	fmt.Println(tw.Render())
	return nil
}

func policyCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "policy",
		Short: "Passenger insurance",
	}
	p.AddCommand(policyBuyCmd())
	p.AddCommand(policyListCmd())
	p.AddCommand(policyWithdrawCmd())
	return p
}

func policyBuyCmd() *cobra.Command {
	var airline, flight, name, amount string
	var departure int64
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Insure the caller on a flight",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			a, err := domain.ParseAmount(amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Buy(ctx, c, airline, flight, departure, name, a)
				if err != nil {
					return err
				}
				return printPolicies([]domain.Policy{p})
			})
		},
	}
	cmd.Flags().StringVar(&airline, "airline", "", "airline address")
	cmd.Flags().StringVar(&flight, "flight", "", "flight code")
	cmd.Flags().Int64Var(&departure, "departure", 0, "departure time in unix seconds")
	cmd.Flags().StringVar(&name, "name", "", "passenger name")
	cmd.Flags().StringVar(&amount, "amount", "1", "premium in whole units")
	_ = cmd.MarkFlagRequired("airline")
	_ = cmd.MarkFlagRequired("flight")
	_ = cmd.MarkFlagRequired("departure")
	return cmd
}

func policyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [passenger]",
		Short: "List a passenger's policies (defaults to the caller)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var passenger string
			if len(args) == 1 {
				passenger = args[0]
			} else {
				c, err := caller()
				if err != nil {
					return err
				}
				passenger = c
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPolicies(ctx, passenger)
				if err != nil {
					return err
				}
				credit, err := e.Credit(ctx, passenger)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"passenger": passenger, "credit": credit, "items": items})
				}
				if err := printPolicies(items); err != nil {
					return err
				}
				fmt.Printf("Credit: %s\n", credit)
				return nil
			})
		},
	}
}

func policyWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw",
		Short: "Pay out the caller's credit",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				amount, err := e.Withdraw(ctx, c)
				if err != nil {
					return err
				}
				balance, err := e.Balance(ctx, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"passenger": c, "amount": amount, "balance": balance})
				}
				fmt.Printf("Withdrew %s (balance %s)\n", amount, balance)
				return nil
			})
		},
	}
}

func printPolicies(items []domain.Policy) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Passenger", "Flight", "Paid", "Credit", "Withdrawn"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Passenger, p.Flight.String(), p.AmountPaid, p.PayoutCredit, p.Withdrawn})
	}
	fmt.Println(tw.Render())
	return nil
}

func oracleCmd() *cobra.Command {
	o := &cobra.Command{
		Use:   "oracle",
		Short: "Act as a single oracle",
	}
	o.AddCommand(oracleRegisterCmd())
	o.AddCommand(oracleIndexesCmd())
	o.AddCommand(oracleSubmitCmd())
	o.AddCommand(oracleRequestsCmd())
	return o
}

func oracleRegisterCmd() *cobra.Command {
	var fee string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the caller as an oracle",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			a, err := domain.ParseAmount(fee)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.RegisterOracle(ctx, c, a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(o)
				}
				fmt.Printf("%s registered with indexes %v\n", o.Address, o.Indexes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fee, "fee", "1", "registration fee in whole units")
	return cmd
}

func oracleIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes [oracle]",
		Short: "Show an oracle's indexes (defaults to the caller)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var oracle string
			if len(args) == 1 {
				oracle = args[0]
			} else {
				c, err := caller()
				if err != nil {
					return err
				}
				oracle = c
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				idx, err := e.GetMyIndexes(ctx, oracle)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"oracle": oracle, "indexes": idx})
				}
				fmt.Println(idx[0], idx[1], idx[2])
				return nil
			})
		},
	}
}

func oracleSubmitCmd() *cobra.Command {
	var airline, flight, status string
	var departure int64
	var index int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Report a flight status for an open request",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			code, err := domain.ParseStatusCode(status)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SubmitOracleResponse(ctx, c, index, airline, flight, departure, code)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %d reports for %s", res.RequestID, res.Count, res.Status)
				if res.Resolved {
					fmt.Print(" (resolved)")
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "request index")
	cmd.Flags().StringVar(&airline, "airline", "", "airline address")
	cmd.Flags().StringVar(&flight, "flight", "", "flight code")
	cmd.Flags().Int64Var(&departure, "departure", 0, "departure time in unix seconds")
	cmd.Flags().StringVar(&status, "status", "", "status name or code (late-airline, 20)")
	for _, name := range []string{"index", "airline", "flight", "departure", "status"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func oracleRequestsCmd() *cobra.Command {
	var open bool
	var limit int
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List oracle requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRequests(ctx, open, limit)
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "only unresolved requests")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func printRequests(items []domain.OracleRequest) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Index", "Flight", "Opened", "Resolved"})
	for _, r := range items {
		resolved := ""
		if r.ResolvedCode != nil {
			resolved = r.ResolvedCode.String()
		}
		tw.AppendRow(table.Row{r.ID, r.Index, r.Flight.String(), r.OpenedAt, resolved})
	}
	fmt.Println(tw.Render())
	return nil
}

func oraclesCmd() *cobra.Command {
	o := &cobra.Command{
		Use:   "oracles",
		Short: "Oracle fleet",
	}
	o.AddCommand(oraclesSimulateCmd())
	return o
}

func oraclesSimulateCmd() *cobra.Command {
	var count int
	var prefix, status string
	var random bool
	var seed int64
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a fleet of oracles that answer status requests until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			reporter, err := simReporter(status, random, seed)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sim := oraclesim.New(e, oraclesim.OracleNames(prefix, count), reporter, e.Logger)
				if err := sim.Register(ctx); err != nil {
					return err
				}
				e.Logger.Info().Int("oracles", count).Msg("oracle fleet registered")
				return sim.Run(ctx)
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 20, "number of oracles")
	cmd.Flags().StringVar(&prefix, "prefix", "oracle", "oracle identity prefix")
	cmd.Flags().StringVar(&status, "status", "late-airline", "status every oracle reports")
	cmd.Flags().BoolVar(&random, "random", false, "report random statuses instead")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random reporter seed (0 uses the clock)")
	return cmd
}

func simReporter(status string, random bool, seed int64) (oraclesim.Reporter, error) {
	if random {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return oraclesim.NewRandomReporter(seed), nil
	}
	code, err := domain.ParseStatusCode(status)
	if err != nil {
		return nil, err
	}
	return oraclesim.FixedReporter{Status: code}, nil
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every state change appends an event: admissions, funding, policies, oracle requests and resolutions.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if follow {
					sub := &events.Subscriber{Repo: e.Repo, Logger: e.Logger}
					if evtType != "" {
						sub.Types = []string{evtType}
					}
					return sub.Run(ctx, func(_ context.Context, evt domain.Event) error {
						return printEvents([]domain.Event{evt})
					})
				}
				items, err := e.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printEvents(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new events until interrupted")
	return cmd
}

func printEvents(items []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
	for _, evt := range items {
		tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
	}
	fmt.Println(tw.Render())
	return nil
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "API keys for the HTTP API",
		Long:  "An API key authenticates HTTP calls as the caller it was issued to. The plaintext is printed once.",
	}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a key for the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, c, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "caller": key.Caller, "key": secret})
				}
				fmt.Printf("%s\nid: %s (store the key now; it is not shown again)\n", secret, key.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the caller's keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, key.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := caller()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeAPIKey(ctx, c, args[0])
			})
		},
	})
	return k
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var dev bool
	var simulate int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), DevMode: dev}
			if authCfg.JWTSecret == "" && !dev {
				return fmt.Errorf("FLIGHTSURETY_JWT_SECRET is required for bearer auth")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg.Logger = e.Logger
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: e.Logger})
				if err != nil {
					return err
				}
				if simulate > 0 {
					sim := oraclesim.New(e, oraclesim.OracleNames("oracle", simulate), nil, e.Logger)
					if err := sim.Register(ctx); err != nil {
						return err
					}
					go func() {
						if err := sim.Run(ctx); err != nil {
							e.Logger.Error().Err(err).Msg("oracle simulator stopped")
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				e.Logger.Info().Str("addr", addr).Str("base_path", basePath).Bool("dev", dev).Msg("serving FlightSurety API")
				fmt.Printf("Serving FlightSurety API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().BoolVar(&dev, "dev", false, "accept X-Caller-Id and enable /auth/dev/token")
	cmd.Flags().IntVar(&simulate, "simulate-oracles", 0, "run this many simulated oracles in-process")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
