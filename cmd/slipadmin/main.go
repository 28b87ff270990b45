// slipadmin is the operator tool for slip store diagnostics: listing and
// repairing encrypted slips, reviewing quantity alerts, flipping the global
// kill switch and requesting an immediate autotrade cycle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"lunara-sentinel/config"
	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/logging"
	"lunara-sentinel/internal/monitor"
	"lunara-sentinel/internal/scheduler"
	"lunara-sentinel/internal/secrets"
	"lunara-sentinel/internal/settings"
	"lunara-sentinel/internal/slipstore"

	"github.com/redis/go-redis/v9"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: slipadmin <command> [args]

commands:
  list                 list all readable slips and unreadable keys
  get <trade-id>       show one decrypted slip
  quarantine <id>      move a slip's keys under the quarantine prefix
  purge <id>           delete a slip's keys outright
  orphans              cross-check open trades against stored slips
  alerts               show recent quantity alerts
  kill <on|off>        set or clear the global autotrade kill switch
  run-now              request an immediate autotrade cycle`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	logging.Init("warn", "console")
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	switch os.Args[1] {
	case "list":
		slips, unreadable, err := openStore(ctx, cfg, rdb).List(ctx)
		if err != nil {
			fatal(err)
		}
		for _, s := range slips {
			fmt.Printf("%s %s amount=%g price=%g status=%s\n",
				s.TradeID, s.Symbol, s.Amount, s.Price, s.Status)
		}
		for _, key := range unreadable {
			fmt.Printf("UNREADABLE %s\n", key)
		}

	case "get":
		requireArg()
		slip, err := openStore(ctx, cfg, rdb).Get(ctx, os.Args[2])
		if err != nil {
			fatal(err)
		}
		if slip == nil {
			fmt.Println("not found (missing or undecryptable)")
			return
		}
		printJSON(slip)

	case "quarantine":
		requireArg()
		if err := openStore(ctx, cfg, rdb).Quarantine(ctx, os.Args[2]); err != nil {
			fatal(err)
		}

	case "purge":
		requireArg()
		if err := openStore(ctx, cfg, rdb).Purge(ctx, os.Args[2]); err != nil {
			fatal(err)
		}

	case "orphans":
		repo := openRepo(ctx, cfg)
		report, err := monitor.FindOrphans(ctx, repo, openStore(ctx, cfg, rdb))
		if err != nil {
			fatal(err)
		}
		if report.Empty() {
			fmt.Println("ledger and slip store agree")
			return
		}
		for _, t := range report.TradesWithoutSlip {
			fmt.Printf("TRADE-WITHOUT-SLIP id=%d user=%d symbol=%s\n", t.ID, t.UserID, t.CoinSymbol)
		}
		for _, s := range report.SlipsWithoutTrade {
			fmt.Printf("SLIP-WITHOUT-TRADE id=%s symbol=%s\n", s.TradeID, s.Symbol)
		}
		for _, key := range report.UnreadableKeys {
			fmt.Printf("UNREADABLE %s\n", key)
		}

	case "alerts":
		alerts, err := openRepo(ctx, cfg).ListQuantityAlerts(ctx, 50)
		if err != nil {
			fatal(err)
		}
		for _, a := range alerts {
			fmt.Printf("%s trade=%d user=%d %s qty=%g price=%g: %s\n",
				a.CreatedAt.Format("2006-01-02 15:04:05"), a.TradeID, a.UserID,
				a.CoinSymbol, a.Quantity, a.Price, a.Reason)
		}

	case "kill":
		requireArg()
		switch os.Args[2] {
		case "on":
			if err := rdb.Set(ctx, settings.GlobalKillSwitchKey, "false", 0).Err(); err != nil {
				fatal(err)
			}
			fmt.Println("autotrade disabled globally")
		case "off":
			if err := rdb.Del(ctx, settings.GlobalKillSwitchKey).Err(); err != nil {
				fatal(err)
			}
			fmt.Println("kill switch cleared")
		default:
			usage()
		}

	case "run-now":
		payload, _ := json.Marshal(scheduler.ControlSignal{Action: "run", Source: "slipadmin"})
		if err := rdb.Publish(ctx, cfg.Autotrade.ControlChannel, payload).Err(); err != nil {
			fatal(err)
		}
		fmt.Println("cycle requested")

	default:
		usage()
	}
}

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) *slipstore.Store {
	provider, err := secrets.NewProvider(cfg.Vault)
	if err != nil {
		fatal(err)
	}
	store, err := slipstore.New(rdb, provider.SlipEncryptionKey(ctx, cfg.Encryption.KeyEnvVars))
	if err != nil {
		fatal(err)
	}
	return store
}

func openRepo(ctx context.Context, cfg *config.Config) *database.Repository {
	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		fatal(err)
	}
	repo, err := database.NewRepository(ctx, pool)
	if err != nil {
		fatal(err)
	}
	return repo
}

func requireArg() {
	if len(os.Args) < 3 {
		usage()
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "slipadmin:", err)
	os.Exit(1)
}
