package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"statebridge/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeCommand_JSON(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"probe", "--json"})
	t.Cleanup(func() { jsonOutput = false })

	require.NoError(t, rootCmd.Execute())

	var desc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &desc))
	assert.Contains(t, []any{"web", "desktop", "mobile", "container"}, desc["type"])
}

func TestImportCommand_MissingFile(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"import", t.TempDir() + "/missing.json"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read package")
}

func TestRedeemCommand_RequiresCode(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"redeem"})

	assert.Error(t, rootCmd.Execute())
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "statectl-test-secret")
	t.Setenv("LOCAL_STORE_PATH", t.TempDir()+"/local.json")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "user-7", "--ttl", "5m"})
	t.Cleanup(func() { tokenTTL = 0 })

	require.NoError(t, rootCmd.Execute())

	claims, err := jwt.ValidateAccessToken(strings.TrimSpace(out.String()), "statectl-test-secret")
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.UserID)
}
