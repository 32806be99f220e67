// Command flash-sandbox runs a local stand-in for the Flash backend so the
// client and CLI can be exercised without production credentials.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lnflash/flash-fedi-mod/internal/sandbox"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "flash-sandbox",
		Short:        "Local Flash backend for development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v.SetEnvPrefix("FLASH_SANDBOX")
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return run(cmd.Context(), v)
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8085", "listen address")
	f.String("api-key", "", "require this X-API-Key on every request")
	f.String("verification-code", "", "fixed phone verification code (default 123456)")
	f.Float64("settlement-limit", 0, "per-request settlement ceiling (default 10000)")
	f.Float64("rate", 0, "allowed requests per second per client (default 25)")
	f.Int("burst", 0, "rate limiter burst (default 50)")
	f.String("log-level", "info", "logrus level: debug, info, warn, error")
	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	logger := logrus.New()
	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return errors.Wrap(err, "parsing log level")
	}
	logger.SetLevel(level)
	log := logrus.NewEntry(logger)

	srv, err := sandbox.New(sandbox.Config{
		APIKey:               v.GetString("api-key"),
		VerificationCode:     v.GetString("verification-code"),
		SettlementDailyLimit: v.GetFloat64("settlement-limit"),
		RatePerSecond:        v.GetFloat64("rate"),
		RateBurst:            v.GetInt("burst"),
	}, log)
	if err != nil {
		return errors.Wrap(err, "building sandbox")
	}

	httpSrv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpSrv.Addr).Info("sandbox listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serving")
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
