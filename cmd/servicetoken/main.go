package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"vidgen/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	var (
		kindFlag    string
		subjectFlag string
		ttlFlag     time.Duration
	)
	flag.StringVar(&kindFlag, "kind", "", "token kind: watchdog, bus, admin or user")
	flag.StringVar(&subjectFlag, "sub", "", "subject (required for admin and user tokens)")
	flag.DurationVar(&ttlFlag, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		exitWithError(errors.New("JWT_SECRET is required"))
	}

	claims, err := buildClaims(strings.ToLower(strings.TrimSpace(kindFlag)), strings.TrimSpace(subjectFlag), ttlFlag, time.Now())
	if err != nil {
		exitWithError(err)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		exitWithError(fmt.Errorf("sign token: %w", err))
	}
	fmt.Println(signed)
}

func buildClaims(kind, subject string, ttl time.Duration, now time.Time) (jwt.MapClaims, error) {
	if ttl <= 0 {
		return nil, errors.New("-ttl must be positive")
	}
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	switch kind {
	case "watchdog":
		claims["aud"] = middleware.AudienceWatchdog
	case "bus":
		claims["aud"] = middleware.AudienceCompletion
	case "admin", "user":
		if subject == "" {
			return nil, fmt.Errorf("-sub is required for %s tokens", kind)
		}
		if kind == "admin" {
			claims["role"] = middleware.RoleAdmin
		}
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
	if subject != "" {
		claims["sub"] = subject
	}
	return claims, nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
