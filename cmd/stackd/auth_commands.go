package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/stackd/internal/auth"
)

// HashPassword prints a users entry for [server.auth].
func (c command) HashPassword(user, password string, f AuthFlags, in io.Reader) error {
	if f.Stdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	hash, err := auth.HashPassword(password, f.Cost)
	if err != nil {
		return err
	}
	p, err := c.printer()
	if err != nil {
		return err
	}
	return p.line("user", user+":"+hash)
}

// Token logs in with basic credentials and prints the issued bearer token.
func (c command) Token(ctx context.Context, f AuthFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	f.Token = ""
	cl, err := c.connect(ctx, f.ClientFlags)
	if err != nil {
		return err
	}
	tok, err := cl.Login(ctx)
	if err != nil {
		return err
	}
	if ok, err := p.structured(tok); ok {
		return err
	}
	_, err = fmt.Fprintln(c.out, tok.Value)
	return err
}

func createAuthCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage control API credentials",
	}

	hf := &AuthFlags{}
	hash := &cobra.Command{
		Use:   "hash-password <user> [password]",
		Short: "Print a bcrypt users entry for [server.auth]",
		Long: `Print a "user:hash" line for the users list of [server.auth].

Examples:
  stackd auth hash-password admin s3cret
  echo s3cret | stackd auth hash-password admin --stdin`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) > 1 {
				password = args[1]
			}
			return c.HashPassword(args[0], password, *hf, cmd.InOrStdin())
		},
	}
	hash.Flags().IntVar(&hf.Cost, "cost", 0, "bcrypt cost (default 10)")
	hash.Flags().BoolVar(&hf.Stdin, "stdin", false, "read the password from stdin")

	tf := &AuthFlags{}
	token := &cobra.Command{
		Use:   "token",
		Short: "Exchange basic credentials for a bearer token",
		Long: `Log in to the daemon and print a bearer token usable with --token
or $STACKD_TOKEN.

Examples:
  export STACKD_TOKEN=$(stackd auth token --username admin --password s3cret)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Token(cmd.Context(), *tf)
		},
	}
	addClientFlags(token, &tf.ClientFlags)

	cmd.AddCommand(hash, token)
	return cmd
}
