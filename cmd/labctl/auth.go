package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiclient "github.com/GarthBrooksFan/experiment-tracker/pkg/api/client"
	"github.com/GarthBrooksFan/experiment-tracker/pkg/crypto"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a GitHub identity vouched for by the auth gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		gateway, _ := cmd.Flags().GetString("gateway-token")
		if strings.TrimSpace(username) == "" {
			return errors.New("--username is required")
		}
		if gateway == "" {
			gateway = viper.GetString(keyGateway)
		}
		secret, err := readSecret("Gateway token: ", gateway)
		if err != nil {
			return err
		}
		client, err := apiclient.New(viper.GetString(keyAPI), apiclient.WithGatewayToken(secret))
		if err != nil {
			return err
		}
		session, err := client.SignIn(cmd.Context(), apiclient.Identity{
			Provider: "github",
			Username: username,
			Email:    email,
			Name:     name,
		})
		if err != nil {
			return err
		}
		viper.Set(keyAccessToken, session.AccessToken)
		viper.Set(keyRefreshToken, session.RefreshToken)
		if err := saveConfig(); err != nil {
			return err
		}
		fmt.Printf("signed in as %s (expires in %ds)\n", session.User.GithubUsername, session.ExpiresIn)
		return nil
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key",
	Short: "Hash an admin key for the ADMIN_KEY_HASH setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		secret, err := readSecret("Admin key: ", key)
		if err != nil {
			return err
		}
		if secret == "" {
			return errors.New("admin key must not be empty")
		}
		hash, err := crypto.HashSecret(secret)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the sign-in allow-list",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allow-list entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		var users []apiclient.User
		err := withSession(cmd.Context(), func(c *apiclient.Client) error {
			var err error
			users, err = c.ListUsers(cmd.Context())
			return err
		})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tGITHUB\tEMAIL\tAUTHORIZED\tADMIN")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", u.ID, u.GithubUsername, u.Email, u.IsAuthorized, u.IsAdmin)
		}
		return tw.Flush()
	},
}

var usersGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Authorize, revoke or promote a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		revoke, _ := cmd.Flags().GetBool("revoke")
		grant := apiclient.Grant{GithubUsername: username, Email: email, Name: name}
		authorize := !revoke
		grant.Authorize = &authorize
		if cmd.Flags().Changed("admin") {
			admin, _ := cmd.Flags().GetBool("admin")
			grant.IsAdmin = &admin
		}
		var user apiclient.User
		err := withSession(cmd.Context(), func(c *apiclient.Client) error {
			var err error
			user, err = c.SetAuthorization(cmd.Context(), grant)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s authorized=%t admin=%t\n", user.ID, user.IsAuthorized, user.IsAdmin)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("username", "", "GitHub username")
	loginCmd.Flags().String("email", "", "email address")
	loginCmd.Flags().String("name", "", "display name")
	loginCmd.Flags().String("gateway-token", "", "auth gateway token (prompted when empty)")

	hashKeyCmd.Flags().String("key", "", "admin key (prompted when empty)")

	usersGrantCmd.Flags().String("username", "", "GitHub username")
	usersGrantCmd.Flags().String("email", "", "email address")
	usersGrantCmd.Flags().String("name", "", "display name")
	usersGrantCmd.Flags().Bool("revoke", false, "revoke instead of authorize")
	usersGrantCmd.Flags().Bool("admin", false, "grant or remove the admin role")
	usersCmd.AddCommand(usersListCmd, usersGrantCmd)
}
