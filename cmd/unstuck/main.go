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

	"github.com/jedib0t/go-pretty/v6/table"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"unstuck/internal/config"
	"unstuck/internal/db"
	"unstuck/internal/domain"
	"unstuck/internal/engine"
	"unstuck/internal/migrate"
	"unstuck/internal/relay"
	"unstuck/internal/server"
	"unstuck/internal/session"
	"unstuck/internal/signer"
	"unstuck/internal/store"
	"unstuck/internal/toolserver"
	"unstuck/internal/wallet"
)

var rootCmd = &cobra.Command{
	Use:   "unstuck",
	Short: "Unstuck CLI",
	Long: `Unstuck is a microtask marketplace riding on Nostr relays.
Tasks, bids and work submissions are plain signed events; relays are the only
source of truth and Lightning settles the money. The CLI keeps nothing but
your keypair and a profile cache in the .unstuck workspace directory.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("UNSTUCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(toolserverCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default unstuck.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	var generate bool
	var key string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Install a signing identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sg *signer.LocalSigner
			var err error
			switch {
			case generate:
				sg, err = signer.Generate()
			case key != "":
				sg, err = signer.NewLocalSigner(strings.TrimSpace(key))
			default:
				return fmt.Errorf("pass --generate or --key <hex secret>")
			}
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				pub, _ := sg.PublicKey()
				if err := st.SaveIdentity(ctx, store.Identity{PubKey: pub, SecretKey: sg.SecretKey()}); err != nil {
					return err
				}
				fmt.Println("logged in as", pub)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a fresh keypair")
	cmd.Flags().StringVar(&key, "key", "", "hex-encoded secret key to import")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				if err := st.ClearIdentity(ctx); err != nil {
					return err
				}
				fmt.Println("logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active pubkey",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				id, err := st.GetIdentity(ctx)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("not logged in; run unstuck login")
				}
				if err != nil {
					return err
				}
				fmt.Println(id.PubKey)
				return nil
			})
		},
	}
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile <pubkey>",
		Short: "Show a pubkey's published profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				p, err := app.session.Profile(ctx, args[0])
				if err != nil {
					return err
				}
				if err := app.store.UpsertProfile(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Browse and post tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskPostCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with derived status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				items, err := app.engine.Load(ctx)
				if err != nil {
					return err
				}
				if status != "" {
					filtered := items[:0]
					for _, item := range items {
						if string(item.Status) == status {
							filtered = append(filtered, item)
						}
					}
					items = filtered
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Bid (sats)", "Max (sats)"})
				for _, item := range items {
					tw.AppendRow(table.Row{
						shortID(item.Task.ID()),
						item.Task.Title,
						item.Status,
						item.BidAmount,
						item.Task.MaxPrice,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter: bidding, working or completed")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task with its bid and work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				agg, err := app.engine.LoadOne(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(agg)
			})
		},
	}
}

func taskPostCmd() *cobra.Command {
	var title, description, image string
	var maxPrice int64
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignedApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				task, err := app.engine.PostTask(ctx, engine.TaskPostOptions{
					Title:       title,
					Description: description,
					Image:       image,
					MaxPrice:    maxPrice,
				})
				if err != nil {
					return err
				}
				fmt.Println("posted task", task.ID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&image, "image", "", "image URL")
	cmd.Flags().Int64Var(&maxPrice, "max-price", 0, "maximum price in sats")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func bidCmd() *cobra.Command {
	bid := &cobra.Command{Use: "bid", Short: "Bid on tasks"}
	bid.AddCommand(bidPlaceCmd())
	return bid
}

func bidPlaceCmd() *cobra.Command {
	var taskID, invoice string
	var amount int64
	var withInvoice bool
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a bid on a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignedApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				agg, err := app.engine.LoadOne(ctx, taskID)
				if err != nil {
					return err
				}
				bolt11 := invoice
				if withInvoice && bolt11 == "" {
					provider, err := app.wallet()
					if err != nil {
						return err
					}
					inv, err := provider.CreateInvoice(ctx, amount, "bid on "+agg.Task.Title)
					if err != nil {
						return err
					}
					bolt11 = inv.PaymentRequest
				}
				b, err := app.engine.PlaceBid(ctx, engine.BidOptions{
					TaskID:     taskID,
					TaskAuthor: agg.Task.Author(),
					Amount:     amount,
					Invoice:    bolt11,
				})
				if err != nil {
					return err
				}
				fmt.Printf("placed bid %s for %d sats\n", b.Event.ID, b.Amount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task event id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "bid amount in sats")
	cmd.Flags().StringVar(&invoice, "invoice", "", "BOLT11 invoice to attach")
	cmd.Flags().BoolVar(&withInvoice, "with-invoice", false, "create an invoice via the connected wallet and attach it")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func workCmd() *cobra.Command {
	work := &cobra.Command{Use: "work", Short: "Submit work"}
	work.AddCommand(workSubmitCmd())
	return work
}

func workSubmitCmd() *cobra.Command {
	var taskID, content, format string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit work for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignedApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				agg, err := app.engine.LoadOne(ctx, taskID)
				if err != nil {
					return err
				}
				w, err := app.engine.SubmitWork(ctx, engine.WorkOptions{
					TaskID:     taskID,
					TaskAuthor: agg.Task.Author(),
					Content:    content,
					Format:     format,
				})
				if err != nil {
					return err
				}
				fmt.Println("submitted work", w.Event.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task event id")
	cmd.Flags().StringVar(&content, "content", "", "work content")
	cmd.Flags().StringVar(&format, "format", domain.WorkFormatText, "content format: text or json")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invoice", Short: "Wallet invoices"}
	inv.AddCommand(invoiceCreateCmd())
	return inv
}

func invoiceCreateCmd() *cobra.Command {
	var amount int64
	var memo string
	var noQR bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a Lightning invoice via the connected wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				provider, err := app.wallet()
				if err != nil {
					return err
				}
				inv, err := provider.CreateInvoice(ctx, amount, memo)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(inv)
				}
				fmt.Println(inv.PaymentRequest)
				fmt.Println("payment hash:", inv.PaymentHash)
				if !noQR {
					qr, err := qrcode.New(strings.ToUpper(inv.PaymentRequest), qrcode.Medium)
					if err != nil {
						return err
					}
					fmt.Println(qr.ToSmallString(false))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in sats")
	cmd.Flags().StringVar(&memo, "memo", "", "invoice memo")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "skip the terminal QR code")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func payCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <bolt11>",
		Short: "Pay a BOLT11 invoice via the connected wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				provider, err := app.wallet()
				if err != nil {
					return err
				}
				payment, err := provider.SendPayment(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println("paid, preimage:", payment.Preimage)
				return nil
			})
		},
	}
}

func watchCmd() *cobra.Command {
	var hash string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Wait for an invoice to settle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				provider, err := app.wallet()
				if err != nil {
					return err
				}
				watcher := wallet.SettlementWatcher{
					Provider: provider,
					Interval: app.cfg.Wallet.PollInterval,
				}
				waitCtx := ctx
				if timeout > 0 {
					var cancel context.CancelFunc
					waitCtx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				state, err := watcher.Wait(waitCtx, hash)
				if err != nil {
					return err
				}
				fmt.Println("invoice", state)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "payment hash to watch")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("UNSTUCK_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("UNSTUCK_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   app.engine,
					Session:  app.session,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Unstuck API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func toolserverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toolserver",
		Short: "Serve MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app appEnv) error {
				return toolserver.New(app.engine, app.session).ServeStdio()
			})
		},
	}
}

// appEnv bundles the wired components a command works with.
type appEnv struct {
	cfg     *config.Config
	store   store.Store
	pool    *relay.Pool
	session *session.Session
	engine  engine.Engine
}

func (a appEnv) wallet() (wallet.Provider, error) {
	uri := a.cfg.Wallet.ConnectURI
	if env := os.Getenv("UNSTUCK_WALLET_URI"); env != "" {
		uri = env
	}
	if uri == "" {
		return nil, fmt.Errorf("no wallet configured; set wallet.connect_uri in unstuck.yml or UNSTUCK_WALLET_URI")
	}
	return wallet.ParseNWC(uri)
}

func withStore(ctx context.Context, fn func(context.Context, store.Store) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, store.Store{DB: conn})
}

// withApp wires config, store, relay pool, session and engine. The identity
// is loaded when present; commands that publish use withSignedApp instead.
func withApp(ctx context.Context, fn func(context.Context, appEnv) error) error {
	return withStore(ctx, func(ctx context.Context, st store.Store) error {
		cfg, err := config.Load(viper.GetString("workspace"))
		if err != nil {
			return err
		}
		pool := relay.New(cfg.Relays)
		pool.Retry = relay.RetryPolicy{
			Attempts: cfg.Fetch.RetryAttempts,
			Backoff:  cfg.Fetch.RetryBackoff,
		}
		defer pool.Close()
		sess := session.New(pool)

		var sg signer.Signer
		if id, err := st.GetIdentity(ctx); err == nil {
			local, err := signer.NewLocalSigner(id.SecretKey)
			if err != nil {
				return err
			}
			sg = local
			sess.Login(local)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		e := engine.New(pool, sg)
		e.Profiles = sess
		e.FetchLimit = cfg.Fetch.Limit

		if err := sess.EnsureConnected(ctx); err != nil {
			return err
		}
		return fn(ctx, appEnv{
			cfg:     cfg,
			store:   st,
			pool:    pool,
			session: sess,
			engine:  e,
		})
	})
}

func withSignedApp(ctx context.Context, fn func(context.Context, appEnv) error) error {
	return withApp(ctx, func(ctx context.Context, app appEnv) error {
		if _, err := app.session.PublicKey(); err != nil {
			return fmt.Errorf("not logged in; run unstuck login")
		}
		return fn(ctx, app)
	})
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
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
