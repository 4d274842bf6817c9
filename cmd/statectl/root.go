package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"statebridge/internal/config"
	"statebridge/internal/engine"
	"statebridge/internal/identity"
	"statebridge/pkg/jwt"

	"github.com/spf13/cobra"
)

// EnvToken holds the bearer token of the identity the CLI acts as.
const EnvToken = "STATEBRIDGE_TOKEN"

var rootCmd = &cobra.Command{
	Use:   "statectl",
	Short: "Move project state between runtimes",
	Long: `statectl hosts one engine instance on this machine.

Without STATEBRIDGE_TOKEN it runs as an anonymous, local-only session.
With a token it reads and writes the remote backend for that identity.`,
	SilenceUsage: true,
}

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// session is an engine plus the context carrying the caller's identity.
type session struct {
	ctx    context.Context
	cfg    *config.Config
	engine *engine.Engine
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if token := os.Getenv(EnvToken); token != "" {
		claims, err := jwt.ValidateAccessToken(token, cfg.JWT.Secret)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvToken, err)
		}
		ctx = identity.WithIdentity(ctx, claims.UserID)
	}

	eng, err := engine.New(ctx, cfg, engine.Options{
		Logger: cfg.Logging.NewLogger(cmd.ErrOrStderr()),
	})
	if err != nil {
		return nil, err
	}

	// Pick up the identity's stored configuration before doing anything.
	eng.Configs.LoadConfigState(ctx)

	return &session{ctx: ctx, cfg: cfg, engine: eng}, nil
}

func (s *session) close() {
	s.engine.Close(context.WithoutCancel(s.ctx))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
