package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/klinners/klinners_web/internal/identity"
)

func newProfileCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or complete the account profile",
	}
	cmd.AddCommand(newProfileShowCmd(opts), newProfileFillCmd(opts))
	return cmd
}

func newProfileShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Fetch and print the current profile",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if err := a.requireAuth(); err != nil {
				return err
			}
			res, err := a.session.RefreshUser(ctx)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s", res.Message)
			}
			printProfile(a, a.session.User())
			return nil
		}),
	}
}

func newProfileFillCmd(opts *globalOptions) *cobra.Command {
	var (
		p         identity.Profile
		imagePath string
	)
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Upload profile details and an optional picture",
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if err := a.requireAuth(); err != nil {
				return err
			}
			if imagePath != "" {
				f, err := os.Open(imagePath)
				if err != nil {
					return fmt.Errorf("open image: %w", err)
				}
				defer f.Close()
				p.Image = &identity.File{
					Name:        filepath.Base(imagePath),
					ContentType: mime.TypeByExtension(filepath.Ext(imagePath)),
					Body:        f,
				}
			}
			res, err := a.auth.FillProfileData(ctx, p)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s", res.Message)
			}
			a.session.UpdateUser(ctx, res.User)
			fmt.Fprintln(a.out, "Profile updated.")
			printProfile(a, a.session.User())
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&p.FirstName, "first-name", "", "first name")
	f.StringVar(&p.LastName, "last-name", "", "last name")
	f.StringVar(&p.Username, "username", "", "username")
	f.StringVar(&p.DateOfBirth, "date-of-birth", "", "date of birth (YYYY-MM-DD)")
	f.StringVar(&p.Email, "email", "", "email")
	f.StringVar(&p.Mobile, "mobile", "", "mobile number")
	f.StringVar(&p.Address, "address", "", "postal address")
	f.StringVar(&imagePath, "image", "", "path to a profile picture")
	return cmd
}

func printProfile(a *app, user identity.User) {
	rows := []struct{ label, value string }{
		{"Name", displayName(user)},
		{"Username", user.String("username")},
		{"Email", user.Email()},
		{"Mobile", user.Mobile()},
		{"Address", user.Address()},
		{"Date of birth", user.String("dateOfBirth")},
		{"Image", user.Image()},
	}
	for _, row := range rows {
		if row.value != "" {
			fmt.Fprintf(a.out, "%-14s %s\n", row.label+":", row.value)
		}
	}
}
