package main

import (
	"fmt"

	"github.com/howeyc/gopass"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLoginCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Log in with username and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			password, err := gopass.GetPasswd()
			if err != nil {
				return errors.Wrap(err, "reading password")
			}

			if err := client.Authenticate(cmd.Context(), args[0], string(password)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", args[0])
			return nil
		},
	}
}

func newPhoneLoginCmd(opts *cliOptions) *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "phone-login <phone>",
		Short: "Log in with a phone number and texted code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}

			if err := client.RequestPhoneCode(cmd.Context(), args[0], country); err != nil {
				return err
			}
			fmt.Fprint(cmd.ErrOrStderr(), "Verification code: ")
			code, err := gopass.GetPasswd()
			if err != nil {
				return errors.Wrap(err, "reading code")
			}

			result, err := client.VerifyPhoneCode(cmd.Context(), args[0], string(code))
			if err != nil {
				return err
			}
			if result.User != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", result.User.Username)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Logged in")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&country, "country", "JM", "ISO country code used to normalize the phone number")
	return cmd
}

func newLogoutCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			client.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			if !client.IsAuthenticated() {
				return errors.New("not logged in")
			}
			user, err := client.Me(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(user)
		},
	}
}
