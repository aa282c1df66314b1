package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	apiclient "github.com/GarthBrooksFan/experiment-tracker/pkg/api/client"
)

const (
	keyAPI          = "api"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyAdminKey     = "admin_key"
	keyGateway      = "gateway_token"
)

var (
	buildVersion = "dev"
	cfgFile      string
)

var rootCmd = &cobra.Command{
	Use:           "labctl",
	Short:         "Command line access to the experiment tracker",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the labctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(strings.TrimSpace(buildVersion))
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/labctl/config.yaml)")
	flags.String(keyAPI, "http://localhost:4000", "API base URL")
	flags.String("token", "", "session access token (overrides the saved session)")
	flags.String("admin-key", "", "admin key for allow-list management")
	_ = viper.BindPFlag(keyAPI, flags.Lookup(keyAPI))
	_ = viper.BindPFlag(keyAccessToken, flags.Lookup("token"))
	_ = viper.BindPFlag(keyAdminKey, flags.Lookup("admin-key"))

	rootCmd.AddCommand(versionCmd, loginCmd, hashKeyCmd, usersCmd, experimentsCmd, conflictsCmd, resourcesCmd)
}

func initConfig() error {
	viper.SetEnvPrefix("LABCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		path, err := defaultConfigPath()
		if err != nil {
			return err
		}
		viper.SetConfigFile(path)
	}
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func defaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "labctl", "config.yaml"), nil
}

// saveConfig persists the current settings with owner-only permissions.
func saveConfig() error {
	path := viper.ConfigFileUsed()
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := viper.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Chmod(path, 0o600)
}

func newClient(extra ...apiclient.Option) (*apiclient.Client, error) {
	opts := []apiclient.Option{
		apiclient.WithToken(viper.GetString(keyAccessToken)),
		apiclient.WithAdminKey(viper.GetString(keyAdminKey)),
	}
	return apiclient.New(viper.GetString(keyAPI), append(opts, extra...)...)
}

// readSecret returns value when set, otherwise prompts without echo.
func readSecret(prompt, value string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// withSession runs fn and retries once with a refreshed session when the access
// token has expired.
func withSession(ctx context.Context, fn func(*apiclient.Client) error) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	err = fn(client)
	var apiErr *apiclient.APIError
	refresh := viper.GetString(keyRefreshToken)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || refresh == "" {
		return err
	}
	session, rerr := client.Refresh(ctx, refresh)
	if rerr != nil {
		return err
	}
	viper.Set(keyAccessToken, session.AccessToken)
	viper.Set(keyRefreshToken, session.RefreshToken)
	if serr := saveConfig(); serr != nil {
		fmt.Fprintf(os.Stderr, "warning: could not save refreshed session: %v\n", serr)
	}
	client, err = newClient()
	if err != nil {
		return err
	}
	return fn(client)
}
