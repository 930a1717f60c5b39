// Command quota adjusts a user's monthly credit allowance. It talks to the
// ledger table directly and is meant for operators, not for the API surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"restyle/internal/adapter/repo"
	"restyle/internal/domain"
)

func main() {
	var (
		userFlag   string
		limitFlag  int
		periodFlag string
	)
	flag.StringVar(&userFlag, "user", "", "user ID to update")
	flag.IntVar(&limitFlag, "limit", domain.DefaultMonthlyLimit, "monthly credit limit to set")
	flag.StringVar(&periodFlag, "period", "", "ledger period (YYYY-MM, defaults to the current month)")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if limitFlag < 0 {
		exitWithError(errors.New("-limit must not be negative"))
	}
	period := strings.TrimSpace(periodFlag)
	if period == "" {
		period = domain.PeriodKey(time.Now())
	} else if _, err := time.Parse("2006-01", period); err != nil {
		exitWithError(fmt.Errorf("invalid period %q: %w", period, err))
	}

	_ = godotenv.Load()
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	usage := repo.NewUsageRepository(pool, domain.DefaultMonthlyLimit)
	entry, err := usage.SetLimit(ctx, userID, period, limitFlag)
	if err != nil {
		exitWithError(fmt.Errorf("failed to set limit: %w", err))
	}

	fmt.Printf("user %s period %s: limit=%d consumed=%d remaining=%d\n",
		entry.UserID, entry.Period, entry.Limit, entry.Consumed, entry.Remaining())
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
