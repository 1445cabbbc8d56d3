package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"floorplan/internal/infra"
	"floorplan/internal/infra/credentials"
)

// CredentialStore is the subset of credentials.Store the CLI needs.
type CredentialStore interface {
	EnsureSchema(ctx context.Context) error
	SetGeminiAPIKey(ctx context.Context, key, model string) error
	Delete(ctx context.Context, provider string) (bool, error)
}

// openCredentialStore is swapped out in tests.
var openCredentialStore = func(ctx context.Context) (CredentialStore, func(), error) {
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		if q := strings.TrimSpace(os.Getenv("QUEUE_URL")); strings.HasPrefix(q, "postgres") {
			dbURL = q
		}
	}
	if dbURL == "" {
		return nil, nil, errors.New("DATABASE_URL (or a postgres QUEUE_URL) is required")
	}
	pool, err := infra.NewDBPool(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	logger := infra.NewLogger("cli", "floorplanctl").With().Str("cmd", "credentials").Logger()
	return credentials.NewStore(infra.NewSQLRunner(pool, logger)), pool.Close, nil
}

func credentialsCmd(withTimeout timeoutFunc, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider keys stored in Postgres",
	}

	var key, model string
	set := &cobra.Command{
		Use:   "set-gemini-key",
		Short: "Store the Gemini API key used for room labelling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := strings.TrimSpace(key)
			if k == "" {
				k = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
			}
			if k == "" {
				k = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
			}
			if k == "" {
				return errors.New("gemini key is required via --key or GEMINI_API_KEY")
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			store, closeFn, err := openCredentialStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			if err := store.SetGeminiAPIKey(ctx, k, model); err != nil {
				return fmt.Errorf("persist gemini key: %w", err)
			}
			fmt.Fprintln(out, "gemini key stored")
			return nil
		},
	}
	set.Flags().StringVar(&key, "key", "", "API key (defaults GEMINI_API_KEY, then GOOGLE_API_KEY)")
	set.Flags().StringVar(&model, "model", "", "Optional model override stored with the key")

	del := &cobra.Command{
		Use:   "delete-gemini-key",
		Short: "Remove the stored Gemini API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			store, closeFn, err := openCredentialStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			removed, err := store.Delete(ctx, credentials.ProviderGemini)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintln(out, "gemini key deleted")
			} else {
				fmt.Fprintln(out, "no gemini key stored")
			}
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
