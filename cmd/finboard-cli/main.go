package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"finboard/internal/cli"
	"finboard/internal/client"
	"finboard/internal/config"
	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/extract"
	"finboard/internal/log"
	"finboard/internal/services"
)

type app struct {
	api  *client.Client
	zone daily.Zone
}

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentClient, os.Stderr)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	api, err := client.New(cfg.APIBaseURL, client.WithLogger(logger), client.WithCache(cfg.CacheSize, cfg.CacheTTL))
	if err != nil {
		cli.Fatal(logger, "Invalid API_BASE_URL", err, "config")
	}
	a := &app{api: api, zone: cli.Zone(cfg)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "days":
		err = a.runDays(ctx, os.Args[2:])
	case "summary":
		err = a.runSummary(ctx, os.Args[2:])
	case "budget":
		err = a.runBudget(ctx, os.Args[2:])
	case "merge":
		err = a.runMerge(ctx, os.Args[2:])
	case "extract":
		err = a.runExtract(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("finboard CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  finboard-cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  days      Show the month grouped by local day, with merge pairs")
	fmt.Println("  summary   Show month totals by category")
	fmt.Println("  budget    Show how much of a budget is spent")
	fmt.Println("  merge     Delete an expense and the income that reimburses it")
	fmt.Println("  extract   Draft transactions from an email (stdin) or a receipt image")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'finboard-cli <command> -h' for more information on a command.")
}

// monthFlags registers -year and -month defaulting to the current local month.
func (a *app) monthFlags(fs *flag.FlagSet) (*int, *int) {
	y, m, _ := a.zone.Today(time.Now())
	return fs.Int("year", y, "calendar year"), fs.Int("month", int(m), "calendar month (1-12)")
}

func (a *app) runDays(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("days", flag.ExitOnError)
	year, month := a.monthFlags(fs)
	fs.Parse(args)

	days, err := a.api.Days(ctx, core.TransactionFilter{Year: *year, Month: *month})
	if err != nil {
		var apiErr *client.APIError
		if errors.Is(err, daily.ErrMalformedTimestamp) && errors.As(err, &apiErr) {
			return fmt.Errorf("transaction %d has a malformed timestamp, fix it before viewing the month", apiErr.TransactionID)
		}
		return err
	}
	return cli.RenderDays(os.Stdout, days)
}

func (a *app) runSummary(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	year, month := a.monthFlags(fs)
	fs.Parse(args)

	ov, err := a.api.MonthOverview(ctx, *year, *month)
	if err != nil {
		return err
	}
	return cli.RenderOverview(os.Stdout, ov)
}

func (a *app) runBudget(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("budget", flag.ExitOnError)
	id := fs.Int64("id", 0, "budget id")
	year, month := a.monthFlags(fs)
	fs.Parse(args)

	if *id == 0 {
		budgets, err := a.api.ListBudgets(ctx)
		if err != nil {
			return err
		}
		for _, b := range budgets {
			fmt.Printf("#%d %s (%s)\n", b.ID, b.Name, b.Amount)
		}
		return nil
	}
	usage, err := a.api.BudgetUsage(ctx, *id, *year, *month)
	if err != nil {
		return err
	}
	return cli.RenderBudgetUsage(os.Stdout, usage)
}

// runMerge asks the server to remove a pair. The server checks that both
// ids exist and pair up before deleting anything.
func (a *app) runMerge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	expenseID := fs.Int64("expense", 0, "expense transaction id")
	incomeID := fs.Int64("income", 0, "income transaction id")
	confirm := fs.Bool("yes", false, "confirm the deletion of both transactions")
	fs.Parse(args)

	if *expenseID == 0 || *incomeID == 0 {
		return errors.New("usage: finboard-cli merge -expense ID -income ID -yes")
	}
	pair := daily.MergePair{ExpenseID: *expenseID, IncomeID: *incomeID}
	return mergePair(ctx, a.api, os.Stdout, pair, *confirm)
}

type pairMerger interface {
	Merge(ctx context.Context, pair daily.MergePair, confirmed bool) error
}

func mergePair(ctx context.Context, m pairMerger, w io.Writer, pair daily.MergePair, confirm bool) error {
	err := m.Merge(ctx, pair, confirm)
	var partial *services.PartialMergeError
	switch {
	case err == nil:
		fmt.Fprintf(w, "Merged: removed #%d and #%d\n", pair.ExpenseID, pair.IncomeID)
		return nil
	case errors.Is(err, services.ErrMergeNotConfirmed):
		return errors.New("merge deletes both transactions, pass -yes to confirm")
	case errors.As(err, &partial):
		fmt.Fprintf(w, "Removed #%d, #%d is still there: run the merge again to retry it\n", partial.Removed, partial.Remaining)
		return err
	case errors.Is(err, services.ErrNotAPair):
		return fmt.Errorf("#%d and #%d are not a same-day expense and refund of equal amount: %w", pair.ExpenseID, pair.IncomeID, err)
	case errors.Is(err, services.ErrAlreadyDeleted):
		return fmt.Errorf("#%d and #%d were already merged: %w", pair.ExpenseID, pair.IncomeID, err)
	case errors.Is(err, services.ErrNotFound):
		return fmt.Errorf("no transaction #%d or #%d: %w", pair.ExpenseID, pair.IncomeID, err)
	default:
		return err
	}
}

func (a *app) runExtract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	image := fs.String("image", "", "receipt image file; reads an email from stdin when empty")
	mimeType := fs.String("mime", "image/jpeg", "image MIME type")
	fs.Parse(args)

	var drafts []extract.Draft
	if *image != "" {
		data, err := os.ReadFile(*image)
		if err != nil {
			return err
		}
		if drafts, err = a.api.ExtractImage(ctx, data, *mimeType); err != nil {
			return err
		}
	} else {
		text, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		if drafts, err = a.api.ExtractEmail(ctx, string(text)); err != nil {
			return err
		}
	}

	if len(drafts) == 0 {
		fmt.Println("No transactions found.")
		return nil
	}
	for _, d := range drafts {
		fmt.Printf("%s  %-7s %10s  %s\n", d.OccurredAt, d.Type, d.Amount, d.Description)
	}
	return nil
}
