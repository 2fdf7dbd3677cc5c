package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/config"
	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/logger"
)

var (
	users    int
	reset    bool
	seed     int64
	tokenFor string
	tokenTTL time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the database with demo stations, riders, likes and matches",
	Long: `seed migrates the schema and inserts demo data for local development.

With --token-for it also prints a signed bearer token for that user id,
using JWT_SECRET, JWT_ISSUER and JWT_AUDIENCE from the environment.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New()
		logger.InitFromConfig(cfg)
		log := logger.L()

		database, err := db.NewDB(cfg)
		if err != nil {
			return fmt.Errorf("init db: %w", err)
		}

		opts := db.SeedOptions{Users: users, Reset: reset, Seed: seed}
		if err := db.SeedTestData(database, opts); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		log.Info("seeding completed", "users", users, "reset", reset)

		if tokenFor == "" {
			return nil
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required to issue a token")
		}
		token, err := auth.NewVerifierFromConfig(cfg).Issue(auth.Identity{UserID: tokenFor}, tokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.Flags().IntVar(&users, "users", 20, "number of demo riders")
	rootCmd.Flags().BoolVar(&reset, "reset", false, "delete existing demo data first")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 uses the current time)")
	rootCmd.Flags().StringVar(&tokenFor, "token-for", "", "print a bearer token for this user id")
	rootCmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed token")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
