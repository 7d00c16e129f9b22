package sshutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
Host myserver
    HostName 192.168.1.100
    User admin
    Port 2222
    IdentityFile ~/.ssh/id_myserver
    ProxyJump bastion

Host bastion
    HostName bastion.example.com
    User jump
    UserKnownHostsFile ~/.ssh/known_hosts_bastion ~/.ssh/other

Host direct
    HostName direct.example.com
    ProxyJump none

Host *
    ServerAliveInterval 60

Host work-*
    User workuser
`

func writeSSHConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestParseSSHConfigFile(t *testing.T) {
	hosts, err := ParseSSHConfigFile(writeSSHConfig(t, sampleConfig))
	require.NoError(t, err)

	// Wildcards (*) and patterns (work-*) are excluded; output is sorted.
	require.Len(t, hosts, 3)
	assert.Equal(t, "bastion", hosts[0].Alias)
	assert.Equal(t, "direct", hosts[1].Alias)
	assert.Equal(t, "myserver", hosts[2].Alias)

	my := hosts[2]
	assert.Equal(t, "192.168.1.100", my.Hostname)
	assert.Equal(t, "admin", my.User)
	assert.Equal(t, "2222", my.Port)
	assert.Equal(t, "bastion", my.ProxyJump)
	assert.Contains(t, my.IdentityFile, "id_myserver")
	assert.NotContains(t, my.IdentityFile, "~")
}

func TestParseSSHConfigFile_Missing(t *testing.T) {
	hosts, err := ParseSSHConfigFile(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Nil(t, hosts)
}

func TestLookupHost(t *testing.T) {
	path := writeSSHConfig(t, sampleConfig)

	t.Run("declared alias", func(t *testing.T) {
		e := LookupHost(path, "myserver")
		assert.True(t, e.Found())
		assert.Equal(t, "192.168.1.100", e.Hostname)
		assert.Equal(t, "2222", e.Port)
		assert.Equal(t, "bastion", e.ProxyJump)
	})

	t.Run("known hosts file keeps first entry", func(t *testing.T) {
		e := LookupHost(path, "bastion")
		assert.Equal(t, filepath.Join(homeDir(), ".ssh", "known_hosts_bastion"), e.KnownHostsFile)
	})

	t.Run("ProxyJump none is ignored", func(t *testing.T) {
		e := LookupHost(path, "direct")
		assert.Empty(t, e.ProxyJump)
	})

	t.Run("wildcard user applies", func(t *testing.T) {
		e := LookupHost(path, "work-1")
		assert.Equal(t, "workuser", e.User)
	})

	t.Run("unknown alias", func(t *testing.T) {
		e := LookupHost(path, "elsewhere")
		assert.False(t, e.Found())
		assert.Equal(t, "elsewhere", e.Alias)
	})

	t.Run("missing file", func(t *testing.T) {
		e := LookupHost(filepath.Join(t.TempDir(), "none"), "myserver")
		assert.False(t, e.Found())
	})
}

func TestLookupHost_StopsAtMatch(t *testing.T) {
	path := writeSSHConfig(t, `
Host before
    HostName before.example.com

Match host after
    User x

Host after
    HostName after.example.com
`)
	assert.Equal(t, "before.example.com", LookupHost(path, "before").Hostname)
	assert.False(t, LookupHost(path, "after").Found())
}

func TestSSHHostEntry_Description(t *testing.T) {
	tests := []struct {
		entry SSHHostEntry
		want  string
	}{
		{SSHHostEntry{Alias: "a"}, "a"},
		{SSHHostEntry{Alias: "a", Hostname: "a.example.com", User: "u"}, "a.example.com, user: u"},
		{SSHHostEntry{Alias: "a", Port: "22"}, "a"},
		{SSHHostEntry{Alias: "a", Port: "2200", ProxyJump: "b"}, "port: 2200, via: b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.entry.Description())
	}
}
