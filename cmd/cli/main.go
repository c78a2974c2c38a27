package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-companion/internal/cache"
	"github.com/dvloznov/finance-companion/internal/config"
	"github.com/dvloznov/finance-companion/internal/docstore"
	"github.com/dvloznov/finance-companion/internal/domain"
	infraBQ "github.com/dvloznov/finance-companion/internal/infra/bigquery"
	"github.com/dvloznov/finance-companion/internal/insights"
	"github.com/dvloznov/finance-companion/internal/logger"
	"github.com/dvloznov/finance-companion/internal/notifications"
	"github.com/dvloznov/finance-companion/internal/repository"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "transactions":
		runTransactions(log)
	case "goals":
		runGoals(log)
	case "categories":
		runCategories(log)
	case "settle":
		runSettle(log)
	case "check":
		runCheck(log)
	case "summary":
		runSummary(log)
	case "history":
		runHistory(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Companion CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  transactions  List transactions in a date range")
	fmt.Println("  goals         List savings goals")
	fmt.Println("  categories    List categories")
	fmt.Println("  settle        Mark a transaction paid, received or back to outstanding")
	fmt.Println("  check         Preview the notifications a check would schedule")
	fmt.Println("  summary       Generate last month's summary")
	fmt.Println("  history       Show recently generated notifications")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// setup parses the command's flags and loads the configuration.
func setup(fs *flag.FlagSet, log zerolog.Logger) (*config.Config, zerolog.Logger) {
	envFile := fs.String("env", config.DefaultEnvFile, "Optional .env file")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	return cfg, logger.NewWithLevel(cfg.LogLevel)
}

func newRepository(cfg *config.Config, log zerolog.Logger) *repository.Repository {
	store := docstore.NewClient(docstore.Config{
		BaseURL:   cfg.DocstoreBaseURL,
		ProjectID: cfg.DocstoreProjectID,
		Database:  cfg.DocstoreDatabase,
		APIKey:    cfg.DocstoreAPIKey,
	}, docstore.WithLogger(logger.Component(log, "docstore")))

	return repository.New(store, cache.New(),
		repository.WithLogger(logger.Component(log, "repository")),
		repository.WithMaxAge(cfg.CacheMaxAge),
		repository.WithBackoff(cfg.RateLimitBackoff),
	)
}

func runTransactions(log zerolog.Logger) {
	fs := flag.NewFlagSet("transactions", flag.ExitOnError)
	start := fs.String("start", "", "Start date YYYY-MM-DD (defaults to the first of this month)")
	end := fs.String("end", "", "End date YYYY-MM-DD (defaults to the end of this month)")
	cfg, log := setup(fs, log)

	today := civil.DateOf(time.Now())
	startDate := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
	endDate := startDate.AddMonths(1).AddDays(-1)

	var err error
	if *start != "" {
		if startDate, err = civil.ParseDate(*start); err != nil {
			log.Fatal().Err(err).Msg("Invalid --start")
		}
	}
	if *end != "" {
		if endDate, err = civil.ParseDate(*end); err != nil {
			log.Fatal().Err(err).Msg("Invalid --end")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	txs, err := newRepository(cfg, log).Transactions(ctx, cfg.Identity(), startDate, endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query transactions")
	}

	fmt.Printf("\n=== Transactions %s to %s (%d) ===\n", startDate, endDate, len(txs))
	for i, tx := range txs {
		title := tx.Title
		if title == "" {
			title = tx.Description
		}
		fmt.Printf("\n%d. %s\n", i+1, title)
		fmt.Printf("   Date:     %s\n", tx.Date)
		fmt.Printf("   Amount:   %s\n", notifications.FormatMoney(tx.Amount, cfg.Currency))
		fmt.Printf("   Kind:     %s\n", tx.Kind)
		fmt.Printf("   Status:   %s\n", tx.Status)
		if tx.CategoryID != "" {
			fmt.Printf("   Category: %s\n", tx.CategoryID)
		}
		if tx.Recurrence != nil {
			fmt.Printf("   Repeats:  %s\n", tx.Recurrence.Frequency)
		}
	}
	fmt.Println()

	totals := insights.Summarize(txs)
	fmt.Printf("Income:   %s\n", notifications.FormatMoney(totals.Income, cfg.Currency))
	fmt.Printf("Expenses: %s\n", notifications.FormatMoney(totals.Expenses, cfg.Currency))
	fmt.Printf("Net:      %s\n", notifications.FormatMoney(totals.Net(), cfg.Currency))
}

func runGoals(log zerolog.Logger) {
	fs := flag.NewFlagSet("goals", flag.ExitOnError)
	cfg, log := setup(fs, log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	goals, err := newRepository(cfg, log).Goals(ctx, cfg.Identity())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list goals")
	}

	fmt.Printf("\n=== Goals (%d) ===\n", len(goals))
	for i, g := range goals {
		fmt.Printf("\n%d. %s\n", i+1, g.Title)
		fmt.Printf("   Saved:    %s of %s (%s%%)\n",
			notifications.FormatMoney(g.CurrentAmount, cfg.Currency),
			notifications.FormatMoney(g.TargetAmount, cfg.Currency),
			g.Progress().Shift(2).StringFixed(0))
		if g.Deadline != nil {
			fmt.Printf("   Deadline: %s\n", g.Deadline)
		}
	}
	fmt.Println()
}

func runCategories(log zerolog.Logger) {
	fs := flag.NewFlagSet("categories", flag.ExitOnError)
	cfg, log := setup(fs, log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	categories, err := newRepository(cfg, log).Categories(ctx, cfg.Identity())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list categories")
	}

	fmt.Printf("%-16s %-20s %s\n", "ID", "NAME", "KIND")
	for _, c := range categories {
		fmt.Printf("%-16s %-20s %s\n", c.ID, c.Name, c.Kind)
	}
}

func runSettle(log zerolog.Logger) {
	fs := flag.NewFlagSet("settle", flag.ExitOnError)
	txID := fs.String("id", "", "Transaction ID (required)")
	date := fs.String("date", "", "Transaction date YYYY-MM-DD (required)")
	status := fs.String("status", "", "New status (defaults to the settled status for the kind)")
	cfg, log := setup(fs, log)

	if *txID == "" || *date == "" {
		fmt.Fprintln(os.Stderr, "Error: --id and --date are required")
		fs.Usage()
		os.Exit(1)
	}
	day, err := civil.ParseDate(*date)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --date")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo := newRepository(cfg, log)
	txs, err := repo.Transactions(ctx, cfg.Identity(), day, day)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query transactions")
	}

	tx, ok := findTransaction(txs, *txID)
	if !ok {
		log.Fatal().Str("id", *txID).Str("date", *date).Msg("Transaction not found")
	}
	next := settledStatus(tx.Kind)
	if *status != "" {
		next = domain.Status(*status)
	}

	updated, err := repo.SetStatus(ctx, cfg.Identity(), tx, next)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to update transaction")
	}
	fmt.Printf("%s: %s -> %s\n", updated.Label(), tx.Status, updated.Status)
}

func findTransaction(txs []domain.Transaction, id string) (domain.Transaction, bool) {
	for _, tx := range txs {
		if tx.ID == id {
			return tx, true
		}
	}
	return domain.Transaction{}, false
}

// settledStatus is the status that clears a kind's outstanding state.
func settledStatus(k domain.Kind) domain.Status {
	if statuses := domain.Statuses(k); len(statuses) > 0 {
		return statuses[0]
	}
	return domain.StatusPaid
}

func runCheck(log zerolog.Logger) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cfg, log := setup(fs, log)

	policy, _ := cfg.Policy()
	prefs, _ := cfg.Preferences()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Same window the scheduler analyzes
	today := civil.DateOf(time.Now())
	txs, err := newRepository(cfg, log).Transactions(ctx, cfg.Identity(), today.AddDays(-7), today.AddDays(7))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query transactions")
	}

	generated := notifications.NewAnalyzer(prefs).Analyze(txs, today)
	selected := notifications.Select(generated, prefs, policy.Cap())

	fmt.Printf("Policy: %s/%s, %d of %d notifications would be scheduled\n",
		policy.Periodicity, policy.Intensity, len(selected), len(generated))
	printNotifications(selected)
}

func runSummary(log zerolog.Logger) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	month := fs.String("month", "", "Any date in the month after the one to summarize (defaults to today)")
	cfg, log := setup(fs, log)

	today := civil.DateOf(time.Now())
	if *month != "" {
		var err error
		if today, err = civil.ParseDate(*month); err != nil {
			log.Fatal().Err(err).Msg("Invalid --month")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	model, err := insights.NewGeminiModel(ctx, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create model")
	}

	summarizer := insights.NewSummarizer(newRepository(cfg, log), model,
		insights.WithCurrency(cfg.Currency),
		insights.WithLogger(logger.Component(log, "insights")),
	)
	n, err := summarizer.MonthlySummary(ctx, cfg.Identity(), today)
	if err != nil {
		log.Fatal().Err(err).Msg("Summary failed")
	}

	fmt.Println(n.Title)
	fmt.Println(n.Message)
}

func runHistory(log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", infraBQ.DefaultRecentLimit, "Number of notifications to show")
	cfg, log := setup(fs, log)

	if !cfg.AuditEnabled() {
		log.Fatal().Msg("BQ_PROJECT_ID is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	auditLog, err := infraBQ.NewNotificationLog(ctx, cfg.BQProjectID, cfg.BQDataset, cfg.GoogleOptions()...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open notification log")
	}
	defer auditLog.Close()

	ns, err := auditLog.RecentNotifications(ctx, cfg.UserID, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read notification history")
	}
	printNotifications(ns)
}

func printNotifications(ns []notifications.Notification) {
	for i, n := range ns {
		fmt.Printf("\n%d. [%s] %s\n", i+1, n.Priority, n.Title)
		fmt.Printf("   %s\n", n.Message)
		fmt.Printf("   Type:    %s\n", n.Type)
		if n.ScheduledAt != nil {
			fmt.Printf("   Due:     %s\n", n.ScheduledAt.Format("2006-01-02 15:04"))
		}
		fmt.Printf("   Created: %s\n", n.CreatedAt.Format(time.RFC3339))
	}
	fmt.Println()
}
