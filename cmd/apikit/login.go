package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lgc202/apikit/credential"
)

func newLoginCmd(a *app) *cobra.Command {
	var pair credential.Pair
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store backend credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pair.AccessToken == "" {
				return errors.New("--access is required")
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Save(cmd.Context(), pair); err != nil {
				return err
			}
			a.log.WithField("path", store.Path()).Debug("credentials saved")
			fmt.Fprintf(a.stdout, "credentials saved to %s\n", store.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&pair.AccessToken, "access", "", "access token")
	cmd.Flags().StringVar(&pair.RefreshToken, "refresh", "", "refresh token (optional, enables automatic refresh)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored backend credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "logged out")
			return nil
		},
	}
}
