package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/klinners/klinners_web/internal/pin"
)

func newVerifyPinCmd(opts *globalOptions) *cobra.Command {
	var email, code string
	cmd := &cobra.Command{
		Use:   "verify-pin",
		Short: "Enter the password reset PIN before the timer runs out",
		Long: "Starts the PIN challenge for the address a reset PIN was last sent to.\n" +
			"Type the 4 digits and press enter. Type r to request a new PIN once the\n" +
			"timer has run out, or q to give up.",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if email == "" {
				stored, err := a.tokens.VerificationEmail(ctx)
				if err != nil {
					return err
				}
				email = stored
			}

			if email == "" {
				return errors.New(pin.Message(pin.ErrNoEmail))
			}

			flow := pin.New(a.auth, email,
				pin.WithTTL(a.cfg.PINTTL),
				pin.WithLogger(a.logger),
				pin.WithObserver(clockPrinter(a.out)),
			)
			flow.Start(ctx)
			defer flow.Close()

			if code != "" {
				if !flow.Paste(code) {
					return errors.New(pin.Message(pin.ErrIncomplete))
				}
				if err := flow.Submit(ctx); err != nil {
					return errors.New(pin.Message(err))
				}
				fmt.Fprintln(a.out, "PIN verified. Run `klinctl change-password` to set a new password.")
				return nil
			}
			return pinLoop(ctx, a, flow)
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email the PIN was sent to (defaults to the stored one)")
	cmd.Flags().StringVar(&code, "pin", "", "submit this PIN without prompting")
	return cmd
}

// pinLoop reads commands until the PIN is verified, the user quits or stdin
// closes.
func pinLoop(ctx context.Context, a *app, flow *pin.Flow) error {
	fmt.Fprintf(a.out, "Enter the PIN sent to %s (%s left)\n", flow.View().Email, pin.FormatClock(flow.View().Remaining))
	for {
		line, err := a.in.ReadString('\n')
		input := strings.TrimSpace(line)
		if input == "" && err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("PIN entry aborted")
			}
			return err
		}

		switch strings.ToLower(input) {
		case "q", "quit":
			return errors.New("PIN entry aborted")
		case "r", "resend":
			if err := flow.Resend(ctx); err != nil {
				fmt.Fprintln(a.out, pin.Message(err))
				continue
			}
			fmt.Fprintf(a.out, "A new PIN has been sent (%s left)\n", pin.FormatClock(flow.View().Remaining))
			continue
		}

		if !flow.Paste(input) {
			fmt.Fprintln(a.out, pin.Message(pin.ErrIncomplete))
			continue
		}
		if err := flow.Submit(ctx); err != nil {
			fmt.Fprintln(a.out, pin.Message(err))
			if errors.Is(err, pin.ErrClosed) || ctx.Err() != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(a.out, "PIN verified. Run `klinctl change-password` to set a new password.")
		return nil
	}
}

// clockPrinter reports the countdown every 30 seconds, over the last 10
// seconds, and when it runs out.
func clockPrinter(out io.Writer) func(pin.View) {
	var mu sync.Mutex
	last := -1
	return func(v pin.View) {
		mu.Lock()
		defer mu.Unlock()
		if v.Remaining == last {
			return
		}
		last = v.Remaining
		switch {
		case v.Remaining == 0:
			fmt.Fprintln(out, "PIN has expired. Type r to request a new PIN.")
		case v.Remaining%30 == 0 || v.Remaining <= 10:
			fmt.Fprintf(out, "%s left\n", pin.FormatClock(v.Remaining))
		}
	}
}

func newPinCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage the transaction PIN of the signed-in account",
	}

	var createPIN string
	create := &cobra.Command{
		Use:   "create",
		Short: "Set the transaction PIN",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if err := a.requireAuth(); err != nil {
				return err
			}
			var err error
			if createPIN, err = a.prompt("PIN", createPIN); err != nil {
				return err
			}
			res, err := a.auth.CreatePin(ctx, createPIN)
			return a.report(res, err, "Transaction PIN created.")
		}),
	}
	create.Flags().StringVar(&createPIN, "pin", "", "4-digit PIN")

	var verifyPIN string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the transaction PIN",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if err := a.requireAuth(); err != nil {
				return err
			}
			var err error
			if verifyPIN, err = a.prompt("PIN", verifyPIN); err != nil {
				return err
			}
			res, err := a.auth.VerifyPin(ctx, verifyPIN)
			return a.report(res, err, "Transaction PIN verified.")
		}),
	}
	verify.Flags().StringVar(&verifyPIN, "pin", "", "4-digit PIN")

	cmd.AddCommand(create, verify)
	return cmd
}
