package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/lumichat/internal/profile"
	"github.com/hrygo/lumichat/internal/version"
	"github.com/hrygo/lumichat/server"
	"github.com/hrygo/lumichat/server/auth"
	"github.com/hrygo/lumichat/store"
	"github.com/hrygo/lumichat/store/cache"
	"github.com/hrygo/lumichat/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "lumichat",
		Short: `A chat backend that stores conversations and streams replies from a hosted LLM.`,
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile, err := loadProfile()
			if err != nil {
				slog.Error("failed to load profile", slog.String("error", err.Error()))
				os.Exit(1)
			}
			if err := run(instanceProfile); err != nil {
				slog.Error("lumichat exited", slog.String("error", err.Error()))
				os.Exit(1)
			}
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			name, _ := cmd.Flags().GetString("name")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			instanceProfile := &profile.Profile{Mode: viper.GetString("mode")}
			instanceProfile.FromEnv()
			if instanceProfile.Secret == "" {
				if instanceProfile.Mode == "prod" {
					return fmt.Errorf("LUMICHAT_SECRET is required in prod mode")
				}
				instanceProfile.Secret = "lumichat"
			}

			var expiresAt time.Time
			if ttl > 0 {
				expiresAt = time.Now().Add(ttl)
			}
			token, err := auth.GenerateSessionToken(userID, name, expiresAt, []byte(instanceProfile.Secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver, sqlite or postgres")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("lumichat")
	viper.AutomaticEnv()

	tokenCmd.Flags().String("user", "", "user id placed in the token subject")
	tokenCmd.Flags().String("name", "", "display name placed in the token")
	tokenCmd.Flags().Duration("ttl", auth.DefaultSessionDuration, "token lifetime, 0 for no expiry")
	rootCmd.AddCommand(tokenCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:   viper.GetString("mode"),
		Addr:   viper.GetString("addr"),
		Port:   viper.GetInt("port"),
		Data:   viper.GetString("data"),
		Driver: viper.GetString("driver"),
		DSN:    viper.GetString("dsn"),
	}
	instanceProfile.FromEnv()
	instanceProfile.Version = version.GetCurrentVersion(instanceProfile.Mode)
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func run(instanceProfile *profile.Profile) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return fmt.Errorf("failed to create db driver: %w", err)
	}

	storeInstance := store.New(dbDriver, instanceProfile, newCacheConfig(ctx, instanceProfile))
	if err := storeInstance.Migrate(ctx); err != nil {
		storeInstance.Close()
		return fmt.Errorf("failed to migrate: %w", err)
	}

	s, err := server.NewServer(ctx, instanceProfile, storeInstance)
	if err != nil {
		storeInstance.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	// The default signal sent by the `kill` command is SIGTERM,
	// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := s.Start(ctx); err != nil {
		s.Shutdown(ctx)
		return fmt.Errorf("failed to start server: %w", err)
	}
	printGreetings(instanceProfile)

	<-c
	s.Shutdown(ctx)
	return nil
}

// newCacheConfig adds the Redis L2 tier when configured. An unreachable Redis
// leaves the cache memory-only.
func newCacheConfig(ctx context.Context, instanceProfile *profile.Profile) *cache.TieredCacheConfig {
	cfg := cache.DefaultTieredConfig()
	if instanceProfile.CacheRedisAddr == "" {
		return cfg
	}

	redisConfig := cache.DefaultRedisConfig(instanceProfile.CacheRedisAddr)
	redisConfig.Password = instanceProfile.CacheRedisPassword
	redisCache, err := cache.NewRedisCache(ctx, redisConfig)
	if err != nil {
		slog.Warn("redis cache unavailable, using memory cache only",
			slog.String("addr", instanceProfile.CacheRedisAddr),
			slog.String("error", err.Error()),
		)
		return cfg
	}
	cfg.L2 = redisCache
	return cfg
}

func printGreetings(instanceProfile *profile.Profile) {
	fmt.Printf("lumichat %s started successfully!\n", instanceProfile.Version)
	fmt.Printf("Data directory: %s\n", instanceProfile.Data)
	fmt.Printf("Database driver: %s\n", instanceProfile.Driver)
	fmt.Printf("Mode: %s\n", instanceProfile.Mode)
	if instanceProfile.Addr == "" {
		fmt.Printf("Server running on port %d\n", instanceProfile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", instanceProfile.Addr, instanceProfile.Port)
	}
}

func main() {
	// A missing .env file is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
