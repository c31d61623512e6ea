package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/PaulFidika/jwtverify/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	cfg     *config.Config
	log     *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jwtverify",
	Short: "Verify RS256/384/512 JWTs against trusted issuers",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(cfgPath, logrus.StandardLogger())
		if err != nil {
			return err
		}
		if err := config.Validate(c); err != nil {
			return err
		}
		cfg = c
		log = c.Logger()
		return nil
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./jwtverify.yaml)")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logrus.WithError(err).Error("CLI error")
		os.Exit(1)
	}
}
