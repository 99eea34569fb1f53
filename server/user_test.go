package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/devilmonastery/parley/internal/domain/entities"
)

func sampleUsers() []*entities.User {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	legacy := "https://www.google.com/profiles/123"
	return []*entities.User{
		{
			ID: "1", Name: "grace", DisplayName: "Grace Hopper", Email: "grace@example.com", CreatedAt: created,
			Identities: []*entities.Identity{{Provider: "github", ExternalID: "100", CreatedAt: created}},
		},
		{ID: "2", Name: "alan", DisplayName: "Alan Turing", CreatedAt: created, LegacyIdentity: &legacy},
	}
}

func TestWriteUserListYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUserList(&buf, sampleUsers(), 7, "yaml"))

	var listing userListing
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &listing))
	assert.EqualValues(t, 7, listing.Total)
	require.Len(t, listing.Users, 2)
	assert.Equal(t, []string{"github:100"}, listing.Users[0].Identities)
	assert.True(t, listing.Users[1].Legacy)
}

func TestWriteUserListTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUserList(&buf, sampleUsers(), 2, "table"))

	out := buf.String()
	assert.Contains(t, out, "DISPLAY NAME")
	assert.Contains(t, out, "github:100")
	assert.Contains(t, out, "(legacy)")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "2 of 2 accounts")
}

func TestUserMarkdown(t *testing.T) {
	users := sampleUsers()
	activity := []*entities.AuditLog{
		{Action: entities.ActionUserLogin, Success: true, CreatedAt: time.Now()},
		{Action: entities.ActionIdentityLinkRejected, CreatedAt: time.Now()},
	}

	md := userMarkdown(users[0], activity)
	assert.Contains(t, md, "# Grace Hopper")
	assert.Contains(t, md, "| github | `100` |")
	assert.Contains(t, md, "`identity.link_rejected` (failed)")

	md = userMarkdown(users[1], nil)
	assert.Contains(t, md, "_none_")
	assert.Contains(t, md, "https://www.google.com/profiles/123")
	assert.NotContains(t, md, "Recent activity")
}

func TestPrintMarkdownPlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printMarkdown(&buf, "# title\n", "auto"))
	assert.Equal(t, "# title\n", buf.String())
}

func TestUserListCommandAgainstMemoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\nlogging:\n  level: error\n"), 0o600))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "user", "list", "-o", "yaml"})
	require.NoError(t, cmd.Execute())

	var listing userListing
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &listing))
	assert.Zero(t, listing.Total)
}

func TestUserListRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\n"), 0o600))

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "user", "list", "-o", "xml"})
	assert.ErrorContains(t, cmd.Execute(), "invalid output format")
}

func TestMigrateRequiresPostgres(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\n"), 0o600))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path, "migrate"})
	assert.ErrorContains(t, cmd.Execute(), "postgres driver")
}

func TestUserShowUnknownAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\n"), 0o600))

	for _, ref := range []string{"nobody", "github:42"} {
		cmd := newRootCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"--config", path, "user", "show", ref})
		assert.ErrorContains(t, cmd.Execute(), "not found", ref)
	}
}
