package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"sanctum.org/internal/config"
	"sanctum.org/internal/covenant"
	"sanctum.org/internal/httpapi"
	"sanctum.org/internal/identity"
	"sanctum.org/internal/invite"
	"sanctum.org/internal/migrate"
	"sanctum.org/internal/obs"
	"sanctum.org/internal/project"
	"sanctum.org/internal/proposal"
	"sanctum.org/internal/store/pg"
)

var version = "0.3.1"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sanctum",
	Short: "Foundation portal API server",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (TOML)")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, versionCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		return cfg, nil
	}
	return config.Load(configPath)
}

func openStore(cfg config.Config) (*pg.Store, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database DSN is required (set SANCTUM_PG_DSN or [database] dsn)")
	}
	return pg.Open(cfg.Database.DSN)
}

func newRunner(cfg config.Config) (*migrate.Runner, *pg.Store, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	runner := migrate.NewRunner(store.DB(),
		os.DirFS(cfg.Paths.MigrationsDir), os.DirFS(cfg.Paths.SeedsDir))
	return runner, store, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		obs.Init()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		identitySvc, err := identity.NewService(identity.NewPGStore(store.DB()))
		if err != nil {
			return err
		}
		projectSvc, err := project.NewService(project.NewPGStore(store.DB()), identitySvc)
		if err != nil {
			return err
		}
		proposalSvc, err := proposal.NewService(proposal.NewPGStore(store.DB()))
		if err != nil {
			return err
		}
		inviteSvc, err := invite.NewService(invite.NewPGStore(store.DB()), identitySvc)
		if err != nil {
			return err
		}
		covenantSvc, err := covenant.NewService(covenant.NewPGStore(store.DB()))
		if err != nil {
			return err
		}

		api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, httpapi.Deps{
			Identity:  identitySvc,
			Projects:  projectSvc,
			Proposals: proposalSvc,
			Invites:   inviteSvc,
			Covenant:  covenantSvc,
			TokenTTL:  cfg.TokenTTL(),
		})

		handler := api.Handler()
		handler = httpapi.MaxBodyBytes(handler, cfg.HTTP.MaxBodyBytes)
		handler = httpapi.RateLimit(handler, cfg.HTTP.RateBurst, cfg.HTTP.RatePerSec)
		handler = httpapi.CORS(handler)
		handler = httpapi.SecurityHeaders(handler)
		handler = httpapi.Logging(handler)

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           handler,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		obs.Logger().Printf("starting sanctum-api %s on %s", version, srv.Addr)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-stop:
		}

		obs.Logger().Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		obs.Logger().Println("stopped")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runner, store, err := newRunner(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return runner.Up(cmd.Context())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runner, store, err := newRunner(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return runner.Down(cmd.Context())
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runner, store, err := newRunner(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		applied, err := runner.Status(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return nil
		}
		for _, name := range applied {
			fmt.Println(name)
		}
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply seed data (council roster, departments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runner, store, err := newRunner(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return runner.Seed(cmd.Context())
	},
}
