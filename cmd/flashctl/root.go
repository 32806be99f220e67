// Command flashctl is a terminal front end for the Flash wallet API. It keeps
// its session in a token file, so separate invocations share one login.
package main

import (
	"encoding/json"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lnflash/flash-fedi-mod/internal/flash"
)

const defaultTokenFile = "~/.flash/tokens.json"

type cliOptions struct {
	apiURL    string
	apiKey    string
	tokenFile string
	features  string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	v := viper.New()

	root := &cobra.Command{
		Use:           "flashctl",
		Short:         "Flash wallet from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v.SetEnvPrefix("FLASH")
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			opts.apiURL = v.GetString("api-url")
			opts.apiKey = v.GetString("api-key")
			opts.tokenFile = v.GetString("token-file")
			opts.features = v.GetString("features")
			opts.verbose = v.GetBool("verbose")
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("api-url", flash.DefaultBaseURL, "Flash API base URL")
	pf.String("api-key", "", "API key sent as X-API-Key")
	pf.String("token-file", defaultTokenFile, "where session tokens are stored")
	pf.String("features", "flashSend,bankSettle,bankTopup,fygaroTopup", "comma-separated capability flags")
	pf.BoolP("verbose", "v", false, "debug logging")

	root.AddCommand(
		newLoginCmd(opts),
		newPhoneLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newBalanceCmd(opts),
		newHistoryCmd(opts),
		newSendCmd(opts),
		newSettleCmd(opts),
		newTopupCmd(opts),
		newTopupLinkCmd(opts),
		newBanksCmd(opts),
		newValidateAccountCmd(opts),
		newStatusCmd(opts),
		newFeaturesCmd(opts),
	)
	return root
}

func parseFeatures(list string) flash.Features {
	var f flash.Features
	for _, name := range strings.Split(list, ",") {
		switch flash.Feature(strings.TrimSpace(name)) {
		case flash.FeatureFlashSend:
			f.FlashSend = true
		case flash.FeatureBankSettle:
			f.BankSettle = true
		case flash.FeatureBankTopup:
			f.BankTopup = true
		case flash.FeatureFygaroTopup:
			f.FygaroTopup = true
		}
	}
	return f
}

func (o *cliOptions) newClient() (*flash.Client, error) {
	path, err := homedir.Expand(o.tokenFile)
	if err != nil {
		return nil, errors.Wrap(err, "resolving token file path")
	}
	store := flash.NewFileTokenStore(path)

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if o.verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	return flash.New(flash.Config{
		BaseURL:    o.apiURL,
		APIKey:     o.apiKey,
		Features:   parseFeatures(o.features),
		TokenStore: store,
		Logger:     logrus.NewEntry(logger),
	})
}

// printJSON renders command output as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
