package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginPassword string
	registerFirst bool
)

var loginCmd = &cobra.Command{
	Use:   "login <user>",
	Short: "Exchange a user name and password for a bearer token",
	Long: `login posts the credentials to /token and prints the token. Export it as
DOCSTORECTL_TOKEN or store it under "token" in $HOME/.docstorectl.yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (read from stdin when empty)")
	loginCmd.Flags().BoolVar(&registerFirst, "register", false, "Register the account before logging in")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	client := newClient()
	creds := map[string]string{"user_name": args[0], "password": password}
	if registerFirst {
		if err := client.sendJSON(http.MethodPost, "/register", creds, nil); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}

	var resp map[string]any
	if err := client.sendJSON(http.MethodPost, "/token", creds, &resp); err != nil {
		return err
	}
	if structured() {
		return printOutput(resp)
	}
	fmt.Fprintln(stdout, stringValue(resp["access_token"]))
	fmt.Fprintf(os.Stderr, "expires at %s\n", stringValue(resp["expires_at"]))
	return nil
}
