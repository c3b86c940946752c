package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klinners/klinners_web/internal/identity"
)

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:          "klinctl",
		Short:        "Marketplace account client",
		SilenceUsage: true,
	}
	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newRegisterCmd(opts),
		newVerifyEmailCmd(opts),
		newForgotPasswordCmd(opts),
		newVerifyPinCmd(opts),
		newChangePasswordCmd(opts),
		newProfileCmd(opts),
		newPinCmd(opts),
	)
	return cmd
}

// run builds the client stack for one command and tears it down afterwards.
// SIGINT cancels in-flight requests.
func run(opts *globalOptions, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.close(); err != nil {
				a.logger.Warn("close storage", "error", err)
			}
		}()
		return fn(ctx, a, args)
	}
}

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			var err error
			if email, err = a.prompt("Email", email); err != nil {
				return err
			}
			if password, err = a.prompt("Password", password); err != nil {
				return err
			}
			res, err := a.session.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Message)
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", displayName(a.session.User()))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			a.session.Logout(ctx)
			return nil
		}),
	}
}

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Aliases: []string{"status"},
		Short:   "Show the signed-in user",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if err := a.requireAuth(); err != nil {
				return err
			}
			user := a.session.User()
			fmt.Fprintf(a.out, "Signed in as %s\n", displayName(user))
			if email := user.Email(); email != "" {
				fmt.Fprintf(a.out, "Email: %s\n", email)
			}
			return nil
		}),
	}
}

func newRegisterCmd(opts *globalOptions) *cobra.Command {
	var reg identity.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			var err error
			if reg.Email, err = a.prompt("Email", reg.Email); err != nil {
				return err
			}
			if reg.Password, err = a.prompt("Password", reg.Password); err != nil {
				return err
			}
			if reg.ConfirmPassword == "" {
				reg.ConfirmPassword = reg.Password
			}
			res, err := a.session.Register(ctx, reg)
			return a.report(res, err, "Registration successful. Check your email for the verification code.")
		}),
	}
	f := cmd.Flags()
	f.StringVar(&reg.FirstName, "first-name", "", "first name")
	f.StringVar(&reg.LastName, "last-name", "", "last name")
	f.StringVar(&reg.Username, "username", "", "username")
	f.StringVarP(&reg.Email, "email", "e", "", "account email")
	f.StringVar(&reg.Mobile, "mobile", "", "mobile number")
	f.StringVar(&reg.Address, "address", "", "postal address")
	f.StringVarP(&reg.Password, "password", "p", "", "password (prompted when omitted)")
	f.StringVar(&reg.ConfirmPassword, "confirm-password", "", "password confirmation (defaults to --password)")
	return cmd
}

func newVerifyEmailCmd(opts *globalOptions) *cobra.Command {
	var email, otp string
	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Activate an account with the emailed code",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			var err error
			if email, err = a.prompt("Email", email); err != nil {
				return err
			}
			if otp, err = a.prompt("Code", otp); err != nil {
				return err
			}
			res, err := a.auth.VerifyEmail(ctx, email, otp)
			return a.report(res, err, "Email verified. You can now sign in.")
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVar(&otp, "otp", "", "verification code")
	return cmd
}

func newForgotPasswordCmd(opts *globalOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Email a password reset PIN",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			var err error
			if email, err = a.prompt("Email", email); err != nil {
				return err
			}
			res, err := a.auth.ForgotPassword(ctx, email)
			if err := a.report(res, err, "A PIN has been sent to your email."); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Run `klinctl verify-pin` to enter it.")
			return nil
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

func newChangePasswordCmd(opts *globalOptions) *cobra.Command {
	var email, password, confirm string
	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Set a new password after PIN verification",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if email == "" {
				stored, err := a.tokens.VerificationEmail(ctx)
				if err != nil {
					return err
				}
				email = stored
			}
			var err error
			if email, err = a.prompt("Email", email); err != nil {
				return err
			}
			if password, err = a.prompt("New password", password); err != nil {
				return err
			}
			if confirm, err = a.prompt("Confirm password", confirm); err != nil {
				return err
			}
			res, err := a.auth.ChangePassword(ctx, email, password, confirm)
			return a.report(res, err, "Password changed. You can now sign in.")
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email (defaults to the one the PIN was sent to)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password")
	cmd.Flags().StringVar(&confirm, "confirm-password", "", "new password again")
	return cmd
}

func displayName(user identity.User) string {
	if full := user.FullName(); full != "" {
		return full
	}
	if email := user.Email(); email != "" {
		return email
	}
	return "Guest"
}
