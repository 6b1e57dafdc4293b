//go:build !windows

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/stackd/internal/auth"
	"github.com/loykin/stackd/internal/server"
)

func TestHashPasswordCommand(t *testing.T) {
	out, err := run(t, "auth", "hash-password", "admin", "s3cret", "--cost", "4")
	require.NoError(t, err)
	user, hash, ok := strings.Cut(strings.TrimSpace(out), ":")
	require.True(t, ok)
	require.Equal(t, "admin", user)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	root := buildRoot(&strings.Builder{})
	root.SetIn(strings.NewReader(""))
	root.SetArgs([]string{"auth", "hash-password", "admin", "--stdin"})
	require.Error(t, root.Execute())
}

func TestAuthTokenCommand(t *testing.T) {
	hash, err := auth.HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	a, err := auth.New(auth.Config{Users: []string{"admin:" + hash}})
	require.NoError(t, err)
	api := startDaemon(t, server.WithAuth(a))

	_, err = run(t, "list", "--api-url", api)
	require.ErrorContains(t, err, "401")

	out, err := run(t, "auth", "token", "--api-url", api, "--username", "admin", "--password", "s3cret")
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	require.NotEmpty(t, token)

	out, err = run(t, "list", "--api-url", api, "--token", token)
	require.NoError(t, err)
	require.Contains(t, out, "web")

	out, err = run(t, "list", "--api-url", api, "--username", "admin", "--password", "s3cret")
	require.NoError(t, err)
	require.Contains(t, out, "web")

	_, err = run(t, "auth", "token", "--api-url", api, "--username", "admin", "--password", "bad")
	require.Error(t, err)
}
