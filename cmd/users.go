package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geowatch/geowatch/internal/model"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage notification contacts",
}

var userName string

var usersCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Create a user to own zones and receive alerts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		user := &model.User{Email: args[0], Name: userName}
		if err := e.store.CreateUser(ctx, user); err != nil {
			return err
		}
		fmt.Printf("created user %s (%s)\n", user.ID, user.Email)
		return nil
	},
}

func init() {
	usersCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	usersCmd.AddCommand(usersCreateCmd)
	rootCmd.AddCommand(usersCmd)
}
