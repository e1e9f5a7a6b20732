// moneyvault is the client CLI: it opens (or bootstraps) the encrypted
// vault against a sync server and runs imports and maintenance against
// the local database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/jask/moneyvault/internal/categorize"
	"github.com/jask/moneyvault/internal/config"
	"github.com/jask/moneyvault/internal/dedup"
	"github.com/jask/moneyvault/internal/importer"
	"github.com/jask/moneyvault/internal/llm"
	"github.com/jask/moneyvault/internal/logging"
	"github.com/jask/moneyvault/internal/syncer"
	"github.com/jask/moneyvault/internal/vaultcrypto"
)

func main() {
	log := logging.New()
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("moneyvault failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: moneyvault <command> [flags]

commands:
  keygen                    print a fresh vault key
  status                    open the vault and report its version
  import  -csv FILE [-account NAME]
                            import a CSV statement and sync
  compact                   purge excluded transactions and sync`)
	os.Exit(2)
}

func run(log zerolog.Logger) error {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]

	if cmd == "keygen" {
		key, err := vaultcrypto.NewKeyHex()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Client.UserID == "" {
		return fmt.Errorf("client.userid is not configured")
	}
	key := cfg.Client.KeyValue()
	if key == "" {
		return fmt.Errorf("no vault key in $%s (run `moneyvault keygen` first)", cfg.Client.KeyEnv)
	}

	ctx := context.Background()
	ctrl := syncer.NewController(
		syncer.NewBlobClient(cfg.Client.ServerURL, cfg.Client.UserID),
		key, cfg.Client.Debounce, log)
	if err := ctrl.Open(ctx); err != nil {
		return err
	}
	defer ctrl.Close()

	switch cmd {
	case "status":
		row, err := ctrl.DB().Get(`SELECT COUNT(*) AS n FROM transactions`)
		if err != nil {
			return err
		}
		fmt.Printf("state=%s version=%d transactions=%v\n", ctrl.State(), ctrl.Version(), row["n"])
		return nil

	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		csvPath := fs.String("csv", "", "CSV statement to import (date,description,amount)")
		account := fs.String("account", "Imported", "account name for the rows")
		_ = fs.Parse(os.Args[2:])
		if *csvPath == "" {
			fs.Usage()
			os.Exit(2)
		}
		return runImport(ctx, ctrl, cfg, log, *csvPath, *account)

	case "compact":
		removed, err := ctrl.Compact()
		if err != nil {
			return err
		}
		fmt.Printf("removed %d excluded transactions\n", removed)
		return ctrl.Save(ctx)

	default:
		usage()
		return nil
	}
}

func runImport(ctx context.Context, ctrl *syncer.Controller, cfg config.Config, log zerolog.Logger, csvPath, account string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	// uncertain pairs go to the server's verify endpoint; the dedup engine
	// falls back to deterministic matching if it is unavailable
	verifier := llm.Verifier(llm.NewRemoteVerifier(cfg.Client.ServerURL, cfg.Client.UserID, ""))

	db := ctrl.DB()
	im := importer.New(db,
		dedup.NewEngine(dedup.Config{
			ScoreDuplicate: cfg.Dedup.ScoreDuplicate,
			ScoreUncertain: cfg.Dedup.ScoreUncertain,
			DateSkewDays:   cfg.Dedup.DateSkewDays,
		}, verifier, log),
		categorize.NewEngine(db, log),
		ctrl.NotifyMutation, log)

	acct, err := im.EnsureAccount(account, "checking")
	if err != nil {
		return err
	}
	res, err := im.ImportCSV(ctx, acct, f)
	if err != nil {
		return err
	}
	for _, line := range res.Errors {
		log.Warn().Str("line", line).Msg("csv row skipped")
	}
	fmt.Printf("imported %d, skipped %d duplicates, %d bad rows\n", res.Imported, res.Skipped, len(res.Errors))

	// push the import before exiting instead of waiting out the debounce
	return ctrl.Save(ctx)
}
