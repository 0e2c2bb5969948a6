package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trackboard/trackboard/internal/httpapi"
)

var flagUserPassword string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User maintenance",
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <email>",
	Short: "Set a user's password",
	Long: `Hashes the password with bcrypt and stores it on the matching user
record through the live store interface. Creates the user if no record with
that email exists.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.ToLower(strings.TrimSpace(args[0]))
		if email == "" {
			return errors.New("empty email")
		}
		password := flagUserPassword
		if password == "" {
			fmt.Fprint(cmd.OutOrStdout(), "password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil {
				return err
			}
			password = strings.TrimRight(line, "\r\n")
		}
		hash, err := httpapi.HashPassword(password)
		if err != nil {
			return err
		}

		backend, _, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Store.Close()

		ctx := cmd.Context()
		users, err := backend.Store.GetAll(ctx, "users")
		if err != nil {
			return err
		}
		for _, user := range users {
			candidate, _ := user.Fields["email"].(string)
			if strings.ToLower(strings.TrimSpace(candidate)) != email {
				continue
			}
			if _, err := backend.Store.Update(ctx, "users", user.ID, map[string]any{"passwordHash": hash}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", email)
			return nil
		}
		if _, err := backend.Store.Create(ctx, "users", map[string]any{
			"email":        email,
			"passwordHash": hash,
			"permissions":  map[string]bool{},
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", email)
		return nil
	},
}

func init() {
	userPasswdCmd.Flags().StringVar(&flagUserPassword, "password", "", "password (prompted when omitted)")
	userCmd.AddCommand(userPasswdCmd)
}
