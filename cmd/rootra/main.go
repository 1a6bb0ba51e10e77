package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rootra/internal/app"
	"rootra/internal/config"
	"rootra/internal/db"
	"rootra/internal/domain"
	"rootra/internal/engine"
	"rootra/internal/notify"
	"rootra/internal/qr"
	"rootra/internal/repo"
	"rootra/internal/server"
	"rootra/internal/trace"
)

var rootCmd = &cobra.Command{
	Use:   "rootra",
	Short: "Rootra CLI",
	Long: `Rootra tracks herbal supply-chain batches from farm to shelf.
Batches move through a role-gated pipeline (uploaded -> collected -> processing
-> distribution -> delivered); every accepted move appends to an immutable
transaction log, and consumers scan a QR code to see the full journey.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.WorkspaceDir(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ROOTRA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "admin", "acting role (farmer, aggregator, processor, distributor, admin, consumer)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(certCmd())
	rootCmd.AddCommand(flagCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func actingIdentity() (string, domain.Role, error) {
	actorID := viper.GetString("actor-id")
	role := domain.Role(viper.GetString("role"))
	if !domain.ValidRole(role) {
		return "", "", fmt.Errorf("unknown role %q", role)
	}
	return actorID, role, nil
}

func batchCmd() *cobra.Command {
	batch := &cobra.Command{Use: "batch", Short: "Manage batches"}
	batch.AddCommand(batchCreateCmd())
	batch.AddCommand(batchListCmd())
	batch.AddCommand(batchGetCmd())
	batch.AddCommand(batchTraceCmd())
	batch.AddCommand(batchQRCmd())
	return batch
}

func batchCreateCmd() *cobra.Command {
	var id, herb, phone, notes, address string
	var quantity, lat, lng float64
	var organic bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a batch (farmer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, role, err := actingIdentity()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if !e.Config.HerbKnown(herb) {
					fmt.Fprintf(os.Stderr, "warning: %q is not in the herb catalog\n", herb)
				}
				var origin *domain.Location
				if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") || address != "" {
					origin = &domain.Location{Lat: lat, Lng: lng, Address: address}
				}
				b, err := e.CreateBatch(ctx, actorID, role, engine.CreateBatchInput{
					ID:          id,
					HerbName:    herb,
					QuantityKg:  quantity,
					FarmerPhone: phone,
					Origin:      origin,
					Organic:     organic,
					Notes:       notes,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "batch id (generated when omitted)")
	cmd.Flags().StringVar(&herb, "herb", "", "herb name")
	cmd.Flags().Float64Var(&quantity, "quantity", 0, "quantity in kg")
	cmd.Flags().StringVar(&phone, "phone", "", "farmer phone")
	cmd.Flags().Float64Var(&lat, "lat", 0, "origin latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "origin longitude")
	cmd.Flags().StringVar(&address, "address", "", "origin address")
	cmd.Flags().BoolVar(&organic, "organic", false, "organically grown")
	cmd.Flags().StringVar(&notes, "notes", "", "notes on the create event")
	_ = cmd.MarkFlagRequired("herb")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func batchListCmd() *cobra.Command {
	var stage, holder, farmer, herb string
	var flaggedOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				filter := repo.BatchFilter{
					Stage:    domain.Stage(stage),
					HolderID: holder,
					FarmerID: farmer,
					HerbName: herb,
					Limit:    limit,
				}
				if flaggedOnly {
					flagged := true
					filter.Flagged = &flagged
				}
				batches, err := e.Repo.ListBatches(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(batches)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Herb", "Qty (kg)", "Stage", "Holder", "Flagged"})
				for _, b := range batches {
					tw.AppendRow(table.Row{b.ID, b.HerbName, b.QuantityKg, b.CurrentStage, b.CurrentHolderID, b.Flagged})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&holder, "holder", "", "holder filter")
	cmd.Flags().StringVar(&farmer, "farmer", "", "farmer filter")
	cmd.Flags().StringVar(&herb, "herb", "", "herb filter")
	cmd.Flags().BoolVar(&flaggedOnly, "flagged", false, "only flagged batches")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	return cmd
}

func batchGetCmd() *cobra.Command {
	var withEvents bool
	cmd := &cobra.Command{
		Use:   "get <batch-id>",
		Short: "Show a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				b, err := e.Repo.GetBatch(ctx, args[0])
				if err != nil {
					return err
				}
				if !withEvents {
					return printJSONOrTable(b)
				}
				events, err := e.Repo.ListTransactions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"batch": b, "events": events})
			})
		},
	}
	cmd.Flags().BoolVar(&withEvents, "events", false, "include the transaction log")
	return cmd
}

func batchTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <batch-id>",
		Short: "Show the consumer journey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				b, err := e.Repo.GetBatch(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := e.Repo.ListTransactions(ctx, args[0])
				if err != nil {
					return err
				}
				var certStatus domain.CertificateStatus
				if b.Certificate != nil {
					certStatus = e.CertificateStatus(*b.Certificate)
				}
				journey := trace.Project(b, events, certStatus)
				if viper.GetBool("json") {
					return printJSON(journey)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Status", "Actor", "When"})
				for _, entry := range journey {
					tw.AppendRow(table.Row{entry.Stage, entry.Status, entry.ActorID, entry.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func batchQRCmd() *cobra.Command {
	var out string
	var size int
	cmd := &cobra.Command{
		Use:   "qr <batch-id>",
		Short: "Write the batch QR code PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				b, err := e.Repo.GetBatch(ctx, args[0])
				if err != nil {
					return err
				}
				snap := qr.FromBatch(b)
				png, err := qr.Image(snap, qr.Options{Size: size})
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = b.ID + ".png"
				}
				if err := os.WriteFile(path, png, 0o644); err != nil {
					return err
				}
				payload, err := qr.Encode(snap)
				if err != nil {
					return err
				}
				fmt.Printf("wrote %s (%d bytes)\npayload: %s\n", path, len(png), payload)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default <batch-id>.png)")
	cmd.Flags().IntVar(&size, "size", 256, "image size in pixels")
	return cmd
}

func transitionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "transition", Short: "Move a batch through the pipeline"}
	for _, t := range []struct {
		use   string
		short string
		name  domain.Transition
	}{
		{"collect <batch-id>", "Aggregator takes custody", domain.TransitionCollect},
		{"begin-processing <batch-id>", "Processor starts cleaning", domain.TransitionBeginProcessing},
		{"advance <batch-id>", "Processor moves to the next processing step", domain.TransitionAdvance},
		{"complete <batch-id>", "Processor hands off to distribution (certificate required)", domain.TransitionComplete},
		{"pickup <batch-id>", "Distributor picks up", domain.TransitionPickup},
		{"transit <batch-id>", "Distributor departs", domain.TransitionTransit},
		{"deliver <batch-id>", "Distributor delivers to retail", domain.TransitionDeliver},
	} {
		cmd.AddCommand(transitionSubCmd(t.use, t.short, t.name))
	}
	return cmd
}

func transitionSubCmd(use, short string, transition domain.Transition) *cobra.Command {
	var notes, address, payment string
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, role, err := actingIdentity()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var loc *domain.Location
				if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") || address != "" {
					loc = &domain.Location{Lat: lat, Lng: lng, Address: address}
				}
				ev, err := e.RequestTransition(ctx, args[0], actorID, role, transition, engine.TransitionInput{
					Location:      loc,
					Notes:         notes,
					PaymentStatus: payment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes on the event")
	cmd.Flags().Float64Var(&lat, "lat", 0, "event latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "event longitude")
	cmd.Flags().StringVar(&address, "address", "", "event address")
	cmd.Flags().StringVar(&payment, "payment", "", "payment status for this leg (pending, paid)")
	return cmd
}

func certCmd() *cobra.Command {
	cert := &cobra.Command{Use: "cert", Short: "Quality certificates"}
	cert.AddCommand(certAttachCmd())
	return cert
}

func certAttachCmd() *cobra.Command {
	var id, issuedAt, expiresAt string
	var validDays int
	cmd := &cobra.Command{
		Use:   "attach <batch-id>",
		Short: "Attach or re-issue a quality certificate (processor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, role, err := actingIdentity()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				issued := issuedAt
				if issued == "" {
					issued = time.Now().UTC().Format(time.RFC3339)
				}
				expires := expiresAt
				if expires == "" {
					t, err := time.Parse(time.RFC3339, issued)
					if err != nil {
						return err
					}
					expires = t.Add(time.Duration(validDays) * 24 * time.Hour).Format(time.RFC3339)
				}
				b, err := e.AttachCertificate(ctx, args[0], actorID, role, id, issued, expires)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "certificate id (derived when omitted)")
	cmd.Flags().StringVar(&issuedAt, "issued-at", "", "issue timestamp (RFC3339, default now)")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "expiry timestamp (RFC3339)")
	cmd.Flags().IntVar(&validDays, "valid-days", 30, "validity window when --expires-at is omitted")
	return cmd
}

func flagCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "flag <batch-id>",
		Short: "Flag a batch for investigation (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, role, err := actingIdentity()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				b, err := e.FlagBatch(ctx, args[0], actorID, role, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the batch is held")
	return cmd
}

func resolveCmd() *cobra.Command {
	var outcome string
	cmd := &cobra.Command{
		Use:   "resolve <batch-id>",
		Short: "Resolve a flagged batch (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, role, err := actingIdentity()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				b, err := e.ResolveFlag(ctx, args[0], actorID, role, outcome)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "resolved", "resolved or false_alarm")
	return cmd
}

func payCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "pay <batch-id>",
		Short: "Record payment status for a transition leg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, role, err := actingIdentity()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ev, err := e.MarkPayment(ctx, args[0], actorID, role, status, notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "paid", "pending or paid")
	cmd.Flags().StringVar(&notes, "notes", "", "notes on the payment event")
	return cmd
}

func alertCmd() *cobra.Command {
	alert := &cobra.Command{Use: "alert", Short: "Fraud alerts"}
	alert.AddCommand(alertRaiseCmd())
	alert.AddCommand(alertListCmd())
	alert.AddCommand(alertSetStatusCmd())
	return alert
}

func alertRaiseCmd() *cobra.Command {
	var alertType, description, severity, location string
	cmd := &cobra.Command{
		Use:   "raise <batch-id>",
		Short: "Raise a fraud alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, _, err := actingIdentity()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.RaiseAlert(ctx, args[0], actorID, alertType, description, severity, location)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&alertType, "type", "", "alert type (e.g. duplicate-qr, quantity-mismatch)")
	cmd.Flags().StringVar(&description, "description", "", "details")
	cmd.Flags().StringVar(&severity, "severity", "medium", "low, medium or high")
	cmd.Flags().StringVar(&location, "location", "", "where it was observed")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func alertListCmd() *cobra.Command {
	var batchID, status, severity string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fraud alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				alerts, err := e.Repo.ListAlerts(ctx, repo.AlertFilter{
					BatchID:  batchID,
					Status:   domain.AlertStatus(status),
					Severity: severity,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(alerts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Batch", "Type", "Severity", "Status", "Raised by"})
				for _, a := range alerts {
					tw.AppendRow(table.Row{a.ID, a.BatchID, a.Type, a.Severity, a.Status, a.RaisedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "batch filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&severity, "severity", "", "severity filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	return cmd
}

func alertSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <alert-id>",
		Short: "Advance an alert's lifecycle (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, role, err := actingIdentity()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.SetAlertStatus(ctx, args[0], actorID, role, domain.AlertStatus(status))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "investigating, resolved or false_alarm")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Participants"}
	actor.AddCommand(actorRegisterCmd())
	actor.AddCommand(actorListCmd())
	return actor
}

func actorRegisterCmd() *cobra.Command {
	var id, role, name, phone, state string
	var verified bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.RegisterActor(ctx, domain.Actor{
					ID:       id,
					Role:     domain.Role(role),
					Name:     name,
					Phone:    phone,
					State:    state,
					Verified: verified,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "actor id (generated when omitted)")
	cmd.Flags().StringVar(&role, "role", "", "farmer, aggregator, processor, distributor, admin or consumer")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&state, "state", "", "state or region")
	cmd.Flags().BoolVar(&verified, "verified", false, "identity verified")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actors, err := e.Repo.ListActors(ctx, domain.Role(role))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Name", "State", "Verified"})
				for _, a := range actors {
					tw.AppendRow(table.Row{a.ID, a.Role, a.Name, a.State, a.Verified})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "API keys"}
	keys.AddCommand(apikeyCreateCmd())
	return keys
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a registered actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetActor(ctx, actorID); err != nil {
					return fmt.Errorf("actor %s: %w (register first)", actorID, err)
				}
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The secret is shown once and stored only as a hash.
				fmt.Printf("api key for %s: %s\n", actorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{
		Use:   "log",
		Short: "Transaction log",
	}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var after int64
	var limit int
	var transition string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail the global transaction log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var transitions []string
				if transition != "" {
					transitions = []string{transition}
				}
				events, err := e.Repo.TailTransactions(ctx, after, limit, transitions)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Batch", "Transition", "From", "To", "When"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.Seq, ev.BatchID, ev.Transition, ev.FromStage, ev.ToStage, ev.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "start after this sequence number")
	cmd.Flags().IntVar(&limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&transition, "transition", "", "transition filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Service configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				out, err := e.Config.Marshal()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := config.Parse(data); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate and store a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.UpsertServiceConfig(ctx, nil, string(data))
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			r := repo.New(conn)
			cfg, err := app.ResolveConfig(cmd.Context(), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, r, cfg)
			e.Sink = notify.Logger{}
			authCfg := server.AuthConfig{
				JWTSecret:           os.Getenv("ROOTRA_JWT_SECRET"),
				AllowHeaderIdentity: cfg.Auth.AllowHeaderIdentity,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowHeaderIdentity {
				return fmt.Errorf("ROOTRA_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Rootra API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	conn, err := db.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	r := repo.New(conn)
	cfg, err := app.ResolveConfig(ctx, r)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, r, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.New(conn))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
