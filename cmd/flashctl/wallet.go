package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lnflash/flash-fedi-mod/internal/flash"
)

func parseAmount(raw string) (float64, error) {
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing amount %q", raw)
	}
	return amount, nil
}

func newBalanceCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the wallet balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			bal, err := client.GetBalance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f %s\n", bal.Balance, bal.Currency)
			return nil
		},
	}
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			txs, err := client.TransactionHistory(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return printJSON(txs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to fetch")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func newSendCmd(opts *cliOptions) *cobra.Command {
	var memo, currency string

	cmd := &cobra.Command{
		Use:   "send <username> <amount>",
		Short: "Send funds to another Flash user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			result, err := client.SendToUsername(cmd.Context(), args[0], amount, memo, currency)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "note attached to the payment")
	cmd.Flags().StringVar(&currency, "currency", "USD", "payment currency")
	return cmd
}

func bankDetailFlags(cmd *cobra.Command, bank *flash.BankDetails) {
	cmd.Flags().StringVar(&bank.BankCode, "bank", "", "bank code (see flashctl banks)")
	cmd.Flags().StringVar(&bank.AccountNumber, "account", "", "bank account number")
	_ = cmd.MarkFlagRequired("bank")
	_ = cmd.MarkFlagRequired("account")
}

func newSettleCmd(opts *cliOptions) *cobra.Command {
	var bank flash.BankDetails
	var currency string

	cmd := &cobra.Command{
		Use:   "settle <amount>",
		Short: "Settle wallet funds to a bank account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			result, err := client.SettleToBank(cmd.Context(), bank, amount, currency)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	bankDetailFlags(cmd, &bank)
	cmd.Flags().StringVar(&bank.AccountName, "account-name", "", "name on the bank account")
	cmd.Flags().StringVar(&currency, "currency", "JMD", "settlement currency")
	_ = cmd.MarkFlagRequired("account-name")
	return cmd
}

func newTopupCmd(opts *cliOptions) *cobra.Command {
	var bank flash.BankDetails
	var currency string

	cmd := &cobra.Command{
		Use:   "topup <amount>",
		Short: "Top up the wallet from a bank account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			result, err := client.TopupBank(cmd.Context(), bank, amount, currency)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	bankDetailFlags(cmd, &bank)
	cmd.Flags().StringVar(&currency, "currency", "JMD", "top-up currency")
	return cmd
}

func newTopupLinkCmd(opts *cliOptions) *cobra.Command {
	var currency, returnURL string

	cmd := &cobra.Command{
		Use:   "topup-link <amount>",
		Short: "Create a hosted card-payment link for topping up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			link, err := client.FygaroPaymentLink(cmd.Context(), amount, currency, returnURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link.PaymentURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "USD", "payment currency")
	cmd.Flags().StringVar(&returnURL, "return-url", "", "where the payment page redirects afterwards")
	return cmd
}

func newBanksCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "List banks supported for settlement and top-up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			banks, err := client.SupportedBanks(cmd.Context())
			if err != nil {
				return err
			}
			for _, bank := range banks {
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s %s\n", bank.Code, bank.Name)
			}
			return nil
		},
	}
}

func newValidateAccountCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-account <bank-code> <account-number>",
		Short: "Check a bank account before settling to it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			result, err := client.ValidateBankAccount(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	var topup bool

	cmd := &cobra.Command{
		Use:   "status <transfer-id>",
		Short: "Check a settlement or top-up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			var status *flash.TransferStatus
			if topup {
				status, err = client.TopupStatus(cmd.Context(), args[0])
			} else {
				status, err = client.SettlementStatus(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
	cmd.Flags().BoolVar(&topup, "topup", false, "look up a top-up instead of a settlement")
	return cmd
}

func newFeaturesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "Show which capabilities are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			for _, f := range client.EnabledFeatures() {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}
