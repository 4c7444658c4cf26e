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

	"vidgen/internal/adapter/repo"
	"vidgen/internal/billing"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		idFlag    string
		emailFlag string
		planFlag  string
		grantFlag int64
	)
	flag.StringVar(&idFlag, "id", "", "user ID to update")
	flag.StringVar(&emailFlag, "email", "", "user email to update")
	flag.StringVar(&planFlag, "plan", "", "plan to assign (free, pro); empty keeps the current plan")
	flag.Int64Var(&grantFlag, "grant", 0, "credits to add to the balance")
	flag.Parse()

	userID := strings.TrimSpace(idFlag)
	email := strings.TrimSpace(emailFlag)
	plan := domain.UserPlan(strings.TrimSpace(strings.ToLower(planFlag)))

	if userID == "" && email == "" {
		exitWithError(errors.New("either -id or -email must be provided"))
	}
	if plan != "" && !plan.Valid() {
		exitWithError(fmt.Errorf("unsupported plan %q", plan))
	}
	if plan == "" && grantFlag == 0 {
		exitWithError(errors.New("nothing to do: pass -plan and/or -grant"))
	}
	if grantFlag < 0 {
		exitWithError(errors.New("-grant must be positive"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL"), "userplan")
	runner := infra.NewSQLRunner(pool, logger)
	users := repo.NewUserRepository(runner)

	var user *domain.User
	if userID != "" {
		user, err = users.GetByID(ctx, userID)
	} else {
		user, err = users.GetByEmail(ctx, email)
	}
	if err != nil {
		exitWithError(fmt.Errorf("failed to load user: %w", err))
	}

	if plan != "" && plan != user.Plan {
		user, err = users.SetPlan(ctx, user.ID, plan)
		if err != nil {
			exitWithError(fmt.Errorf("failed to update user plan: %w", err))
		}
	}
	fmt.Printf("User %s (%s) is on plan %s\n", user.ID, user.Email, user.Plan)

	if grantFlag > 0 {
		ledger := billing.NewLedger(runner, repo.NewCreditLedger(), logger)
		balance, err := ledger.Adjust(ctx, user.ID, grantFlag, domain.CreditReasonGrant)
		if err != nil {
			exitWithError(fmt.Errorf("failed to grant credits: %w", err))
		}
		fmt.Printf("granted %d credits, balance=%d\n", grantFlag, balance)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
