package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pewstudio/accessgate/internal/gate"
	"github.com/pewstudio/accessgate/internal/handler"
	"github.com/pewstudio/accessgate/internal/model"
	"github.com/pewstudio/accessgate/internal/persist"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "accessgate",
		Short: "Password-and-quiz access gate with cookie-borne state",
	}

	serve := serveCmd()
	root.AddCommand(serve)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `accessgate --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the access-gate HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("app-secret", "", "HMAC signing secret (or set ACCESS_GATE_APP_SECRET)")
	f.String("app-secret-r2", "", "Rotated signing secret, takes precedence when set")
	f.String("password-bcrypt", "", "bcrypt hash of the shared password")
	f.String("password-hash", "", "SHA-256 hex digest of the shared password")
	f.String("password", "", "Plaintext shared password (prefer a hash)")
	f.StringP("schema", "s", "artifacts/access-gate/schema.json", "Path to the question-bank JSON artifact")
	f.StringP("keys", "k", "", "Path to the answer-key JSON artifact (file key mode)")
	f.String("key-mode", gate.KeyModeFile, "Answer-key strategy (file, embedded)")
	f.String("persist-endpoint", "", "Completion-record endpoint URL")
	f.String("persist-user", "", "Completion endpoint basic-auth user")
	f.String("persist-pass", "", "Completion endpoint basic-auth password")
	f.Bool("persist-required", false, "Block the COMPLETE transition until the completion push succeeds")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /gate)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ACCESS_GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("accessgate")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/accessgate")
	v.AddConfigPath("/etc/accessgate")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Rotated secret wins so one rotation invalidates every outstanding
	// token class at once.
	secret := v.GetString("app-secret-r2")
	if secret == "" {
		secret = v.GetString("app-secret")
	}
	if secret == "" {
		slog.Warn("no signing secret configured; every request will be refused")
	}

	keyMode := strings.ToLower(v.GetString("key-mode"))
	if keyMode != gate.KeyModeFile && keyMode != gate.KeyModeEmbedded {
		return fmt.Errorf("invalid key-mode %q (want file or embedded)", keyMode)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.GateConfig{
		Secret:          secret,
		PasswordBcrypt:  v.GetString("password-bcrypt"),
		PasswordHash:    v.GetString("password-hash"),
		Password:        v.GetString("password"),
		SchemaPath:      v.GetString("schema"),
		KeyPath:         v.GetString("keys"),
		KeyMode:         keyMode,
		PersistEndpoint: v.GetString("persist-endpoint"),
		PersistUser:     v.GetString("persist-user"),
		PersistPass:     v.GetString("persist-pass"),
		PersistRequired: v.GetBool("persist-required"),
		BasePath:        basePath,
		SecureCookies:   v.GetBool("secure-cookies"),
	}

	provider := &gate.Provider{
		SchemaPath: cfg.SchemaPath,
		KeyPath:    cfg.KeyPath,
		Mode:       cfg.KeyMode,
	}
	// Probe the schema artifact early so a bad path fails at startup, not
	// on the first request.
	if d, err := provider.Load(); err != nil {
		slog.Warn("schema artifact not loadable; gate endpoints will fail closed", "error", err)
	} else {
		slog.Info("loaded schema artifact",
			"schema_id", d.Schema.SchemaID,
			"version", d.Schema.Version,
			"entries", len(d.EntryIDs),
			"parts", len(d.Parts),
			"key_status", d.KeyStatus.Status,
		)
	}

	persister := persist.New(persist.Config{
		Endpoint: cfg.PersistEndpoint,
		User:     cfg.PersistUser,
		Pass:     cfg.PersistPass,
		Required: cfg.PersistRequired,
	}, nil)
	if cfg.PersistRequired && !persister.Configured() {
		return fmt.Errorf("persist-required is set but the completion endpoint is not fully configured")
	}

	h := handler.New(cfg, provider, persister)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			h.Routes(sub)
		})
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"schema", cfg.SchemaPath,
		"key_mode", cfg.KeyMode,
		"persist_endpoint", cfg.PersistEndpoint != "",
		"persist_required", cfg.PersistRequired,
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}
