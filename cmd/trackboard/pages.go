package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trackboard/trackboard/internal/access"
)

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "Page-access maintenance",
}

var pagesNormalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Re-normalize every stored user's page-access map",
	Long: `Rewrites each user's permissions against the authoritative page list:
unknown slugs are dropped, missing slugs default to denied, super-admins get
every page. Running it twice is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		updated := 0
		for _, user := range users {
			var normalized map[string]bool
			if superAdmin, _ := user.Fields["superAdmin"].(bool); superAdmin {
				normalized = access.ExpandSuperAdmin(access.DefaultPages)
			} else {
				incoming := map[string]bool{}
				if raw, ok := user.Fields["permissions"].(map[string]any); ok {
					for slug, value := range raw {
						if allowed, ok := value.(bool); ok {
							incoming[slug] = allowed
						}
					}
				}
				normalized = access.Normalize(access.DefaultPages, incoming)
			}
			if permsEqual(user.Fields["permissions"], normalized) {
				continue
			}
			if _, err := backend.Store.Update(ctx, "users", user.ID, map[string]any{"permissions": normalized}); err != nil {
				return fmt.Errorf("user %s: %w", user.ID, err)
			}
			updated++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "normalized permissions for %d of %d users\n", updated, len(users))
		return nil
	},
}

func permsEqual(stored any, normalized map[string]bool) bool {
	raw, ok := stored.(map[string]any)
	if !ok || len(raw) != len(normalized) {
		return false
	}
	for slug, want := range normalized {
		got, ok := raw[slug].(bool)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func init() {
	pagesCmd.AddCommand(pagesNormalizeCmd)
}
