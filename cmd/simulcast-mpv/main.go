// simulcast-mpv is a single binary that plays four roles selected by
// subcommand: install, client, relay, and input-reader. Each subcommand
// builds its own runtime rather than sharing one, since they don't run
// together in the same process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rtldg/simulcast-mpv/client"
	"github.com/rtldg/simulcast-mpv/config"
	"github.com/rtldg/simulcast-mpv/errs"
	"github.com/rtldg/simulcast-mpv/installer"
	"github.com/rtldg/simulcast-mpv/inputreader"
	"github.com/rtldg/simulcast-mpv/ipc"
	"github.com/rtldg/simulcast-mpv/relay"
)

// Exit codes.
const (
	exitOK          = 0
	exitConfigError = 1
	exitPlayerGone  = 2
	exitRelayGone   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "simulcast-mpv",
		Short:         "Synchronize mpv playback across participants over a relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return installer.Run(cmd.OutOrStdout())
		},
	}

	exitCode := exitOK
	root.AddCommand(
		newClientCmd(&logger, &exitCode),
		newRelayCmd(&logger, &exitCode),
		newInputReaderCmd(&logger, &exitCode),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "simulcast-mpv:", err)
		if exitCode == exitOK {
			exitCode = exitConfigError
		}
	}
	return exitCode
}

func newClientCmd(logger *zerolog.Logger, exitCode *int) *cobra.Command {
	var v *viper.Viper
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Attach to a running mpv instance and synchronize it through a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptsDir, _ := installer.ScriptsDir()
			if err := config.LoadDotenv(scriptsDir); err != nil {
				logger.Warn().Err(err).Msg("failed to load dotenv")
			}

			cfg := config.LoadClient(v)
			if cfg.ClientSock == "" {
				*exitCode = exitConfigError
				return fmt.Errorf("client: --client-sock (or %s) is required", config.EnvClientSock)
			}

			l := logger.With().Str("component", "client").Logger()

			ipcClient, err := ipc.Connect(cfg.ClientSock, &l)
			if err != nil {
				*exitCode = exitPlayerGone
				return fmt.Errorf("client: connect to player: %w", err)
			}
			defer ipcClient.Close()

			name := filepath.Base(cfg.ClientSock)
			sess := client.NewSession(ipcClient, cfg.RelayURL, cfg.RelayRoom, name, &l)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			err = sess.Run(ctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, errs.PlayerUnavailable):
				*exitCode = exitPlayerGone
				return err
			default:
				*exitCode = exitRelayGone
				return err
			}
		},
	}
	v = config.BindClientFlags(cmd.Flags())
	return cmd
}

func newRelayCmd(logger *zerolog.Logger, exitCode *int) *cobra.Command {
	var v *viper.Viper
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay server that fans out playback state between clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotenv(""); err != nil {
				logger.Warn().Err(err).Msg("failed to load dotenv")
			}

			cfg := config.LoadRelay(v)

			l := logger.With().Str("component", "relay").Logger()
			srv := relay.NewServer(relay.Config{
				Logger:     &l,
				ListenAddr: fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindPort),
				RepoURL:    cfg.RepoURL,
			})

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var wg sync.WaitGroup
			errc := make(chan error, 1)
			wg.Add(1)
			go srv.Run(ctx, &wg, errc)

			select {
			case err := <-errc:
				l.Error().Err(err).Msg("unexpected relay server error, shutting down")
				cancel()
				wg.Wait()
				*exitCode = exitRelayGone
				return err
			case <-ctx.Done():
				l.Warn().Msg("interrupted")
				wg.Wait()
				return nil
			}
		},
	}
	v = config.BindRelayFlags(cmd.Flags())
	return cmd
}

func newInputReaderCmd(logger *zerolog.Logger, exitCode *int) *cobra.Command {
	var chat bool
	var v *viper.Viper
	cmd := &cobra.Command{
		Use:   "input-reader",
		Short: "Prompt for a custom room code (or chat message) and write it back to mpv",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadClient(v)
			if cfg.ClientSock == "" {
				*exitCode = exitConfigError
				return fmt.Errorf("input-reader: --client-sock (or %s) is required", config.EnvClientSock)
			}

			mode := inputreader.ModeRoomCode
			if chat {
				mode = inputreader.ModeChat
			}
			l := logger.With().Str("component", "input-reader").Logger()
			if err := inputreader.Run(cfg.ClientSock, mode, &l); err != nil {
				*exitCode = exitPlayerGone
				return err
			}
			return nil
		},
	}
	v = config.BindClientFlags(cmd.Flags())
	cmd.Flags().BoolVar(&chat, "chat", false, "prompt for a chat message instead of a room code")
	return cmd
}
