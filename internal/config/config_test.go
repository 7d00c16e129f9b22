package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cybershell/backy/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg.Commands)
	assert.NotNil(t, cfg.Hosts)
	assert.NotNil(t, cfg.Lists)
	assert.Equal(t, DefaultGracePeriod, cfg.Shutdown.GracePeriod)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "backy.yml", `
logging:
  verbose: true
  file: /tmp/backy.log
shutdown:
  grace-period: 3s
commands:
  Dump:
    cmd: pg_dump
    cmdArgs: [-U, postgres]
    host: db1
    environment:
      - PGPASSWORD=vault:pg
    hooks:
      error: [alert]
      final: [cleanup]
  alert:
    cmd: echo
    cmdArgs: [failed]
  cleanup:
    cmd: rm
    cmdArgs: [-f, /tmp/x]
    dir: ~/work
  deploy:
    cmd: scripts/deploy.sh
    type: scriptFile
    host: web1
    scriptEnvFile: /etc/backy/env.sh
  rotate:
    cmd: https://scripts.example.com/rotate.sh
    type: remoteScript
    hosts: [db1, web1]
    outputFile: logs/rotate.log
hosts:
  db1:
    hostname: 10.0.0.5
    port: 2222
    user: backup
    password: env:DB1_PASS
cmd-lists:
  nightly:
    name: Nightly backup
    order: [Dump, cleanup]
    cron: "0 0 1 * * *"
    notifications: [mail.ops]
notifications:
  mail:
    ops:
      host: smtp.example.com
      port: "587"
      senderaddress: backy@example.com
      to: [ops@example.com]
      on: [failure]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, dir, cfg.Dir)
	assert.True(t, cfg.Logging.Verbose)
	assert.Equal(t, "/tmp/backy.log", cfg.Logging.File)
	assert.Equal(t, 3*time.Second, cfg.Shutdown.GracePeriod)

	// Command names keep their case.
	dump, ok := cfg.Command("Dump")
	require.True(t, ok)
	assert.Equal(t, "Dump", dump.Name)
	assert.Equal(t, []string{"-U", "postgres"}, dump.Args)
	assert.True(t, dump.IsRemote())
	assert.Equal(t, []string{"alert"}, dump.Hooks.Error)
	assert.Equal(t, []string{"cleanup"}, dump.Hooks.Final)
	assert.True(t, dump.HasHooks())

	cleanup, _ := cfg.Command("cleanup")
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "work"), cleanup.Dir)
	assert.False(t, cleanup.IsRemote())

	deploy, _ := cfg.Command("deploy")
	assert.Equal(t, TypeScriptFile, deploy.Type)
	assert.Equal(t, filepath.Join(dir, "scripts/deploy.sh"), deploy.Cmd)

	rotate, _ := cfg.Command("rotate")
	assert.Equal(t, TypeRemoteScript, rotate.Type)
	assert.True(t, rotate.FansOut())
	assert.False(t, rotate.IsRemote(), "fan-out commands carry their hosts in Hosts")
	assert.Equal(t, []string{"db1", "web1"}, rotate.Hosts)
	assert.Equal(t, filepath.Join(dir, "logs/rotate.log"), rotate.OutputFile)

	db1 := cfg.Hosts["db1"]
	require.NotNil(t, db1)
	assert.Equal(t, "db1", db1.Name)
	assert.Equal(t, 2222, db1.Port)
	assert.True(t, db1.StrictHostKeys())

	nightly, ok := cfg.List("nightly")
	require.True(t, ok)
	assert.Equal(t, "nightly", nightly.Key)
	assert.Equal(t, "Nightly backup", nightly.DisplayName())

	assert.True(t, cfg.HasTarget("mail.ops"))
	assert.False(t, cfg.HasTarget("matrix.ops"))
	assert.False(t, cfg.Notifications.Mail["ops"].Wants(true))
	assert.True(t, cfg.Notifications.Mail["ops"].Wants(false))
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "backy.yml", "commands:\n  a:\n    cmd: echo\n")
	t.Setenv("BACKY_LOGGING_VERBOSE", "true")
	t.Setenv("BACKY_SHUTDOWN_GRACE_PERIOD", "42s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Logging.Verbose)
	assert.Equal(t, 42*time.Second, cfg.Shutdown.GracePeriod)
}

func TestLoad_SiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "backy.yml", `
commands:
  a:
    cmd: echo
    host: web1
`)
	writeFile(t, dir, "hosts.yml", `
hosts:
  web1:
    hostname: web1.example.com
`)
	writeFile(t, dir, "lists.yaml", `
l1:
  order: [a]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "web1.example.com", cfg.Hosts["web1"].HostName)
	assert.Equal(t, []string{"a"}, cfg.Lists["l1"].Order)
}

func TestLoad_ListsFileDirective(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf"), 0o755))
	writeFile(t, filepath.Join(dir, "conf"), "more-lists.yml", `
cmd-lists:
  extra:
    order: [a]
`)
	path := writeFile(t, dir, "backy.yml", `
commands:
  a:
    cmd: echo
cmd-lists:
  file: conf/more-lists.yml
  inline:
    order: [a]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Lists, "extra")
	assert.Contains(t, cfg.Lists, "inline")
	assert.NotContains(t, cfg.Lists, "file")
}

func TestLoad_DuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "backy.yml", `
hosts:
  web1:
    hostname: a
`)
	writeFile(t, dir, "hosts.yml", `
hosts:
  web1:
    hostname: b
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "host 'web1' is declared more than once")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "backy.yml", "commands:\n  a:\n    cmd: echo\n")
	writeFile(t, dir, ".env", "BACKUP_ROOT=/srv/backups\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/backups", cfg.DotEnv["BACKUP_ROOT"])
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "undefined command in list",
			content: "commands:\n  a:\n    cmd: x\ncmd-lists:\n  l:\n    order: [a, b]\n",
			want:    "command list 'l' references undefined command 'b'",
		},
		{
			name:    "undefined hook",
			content: "commands:\n  a:\n    cmd: x\n    hooks:\n      success: [nope]\n",
			want:    "command 'a' success hook references undefined command 'nope'",
		},
		{
			name:    "undefined notification target",
			content: "commands:\n  a:\n    cmd: x\ncmd-lists:\n  l:\n    order: [a]\n    notifications: [matrix.ops]\n",
			want:    "undefined notification target 'matrix.ops'",
		},
		{
			name:    "bad cron",
			content: "commands:\n  a:\n    cmd: x\ncmd-lists:\n  l:\n    order: [a]\n    cron: \"* * *\"\n",
			want:    "invalid cron",
		},
		{
			name:    "five field cron rejected",
			content: "commands:\n  a:\n    cmd: x\ncmd-lists:\n  l:\n    order: [a]\n    cron: \"0 1 * * *\"\n",
			want:    "invalid cron",
		},
		{
			name:    "empty order",
			content: "commands:\n  a:\n    cmd: x\ncmd-lists:\n  l:\n    order: []\n",
			want:    "command list 'l': order is invalid",
		},
		{
			name:    "missing cmd",
			content: "commands:\n  a:\n    host: h\n",
			want:    "command 'a': cmd is invalid (required)",
		},
		{
			name:    "bad type",
			content: "commands:\n  a:\n    cmd: x\n    type: binary\n",
			want:    "command 'a': type is invalid",
		},
		{
			name:    "bad environment binding",
			content: "commands:\n  a:\n    cmd: x\n    environment: [NOEQUALS]\n",
			want:    "command 'a': environment",
		},
		{
			name:    "scriptEnvFile without scriptFile",
			content: "commands:\n  a:\n    cmd: x\n    scriptEnvFile: /tmp/e\n",
			want:    "scriptEnvFile only applies to type scriptFile",
		},
		{
			name:    "host and hosts",
			content: "commands:\n  a:\n    cmd: x\n    host: db\n    hosts: [web]\n",
			want:    "command 'a': set host or hosts, not both",
		},
		{
			name:    "duplicate hosts",
			content: "commands:\n  a:\n    cmd: x\n    hosts: [web, web]\n",
			want:    "command 'a': hosts is invalid",
		},
		{
			name:    "remoteScript without URL",
			content: "commands:\n  a:\n    cmd: /opt/rotate.sh\n    type: remoteScript\n",
			want:    "remoteScript cmd must be an http or https URL",
		},
		{
			name:    "unknown notification service",
			content: "notifications:\n  pager:\n    x:\n      url: y\n",
			want:    "Unknown notification service 'pager'",
		},
		{
			name:    "incomplete mail target",
			content: "notifications:\n  mail:\n    ops:\n      host: smtp\n",
			want:    "notification target 'mail.ops'",
		},
		{
			name:    "vault without token",
			content: "vault:\n  enabled: true\n  address: http://127.0.0.1:8200\n",
			want:    "no token",
		},
		{
			name:    "top level sequence",
			content: "- a\n- b\n",
			want:    "Expected a mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VAULT_TOKEN", "")
			dir := t.TempDir()
			path := writeFile(t, dir, "backy.yml", tt.content)

			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig), "expected CONFIG error, got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_VaultKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "backy.yml", `
vault:
  enabled: true
  address: http://127.0.0.1:8200
  token: root
  keys:
    - name: pg
      path: backups/postgres
      mountpath: secret
      type: KVv2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Vault.Keys, 1)
	assert.Equal(t, VaultKey{Name: "pg", Path: "backups/postgres", MountPath: "secret", ValueType: "KVv2"}, cfg.Vault.Keys[0])
}

func TestFind(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "custom.yml", "")
		got, err := Find(path)
		require.NoError(t, err)
		assert.Equal(t, path, got)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, err := Find(filepath.Join(t.TempDir(), "nope.yml"))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})

	t.Run("current directory", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "backy.yaml", "")
		t.Chdir(dir)
		t.Setenv("HOME", t.TempDir())

		got, err := Find("")
		require.NoError(t, err)
		assert.Equal(t, "backy.yaml", filepath.Base(got))
	})

	t.Run("home directory", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(home, GlobalConfigDir), 0o755))
		writeFile(t, filepath.Join(home, GlobalConfigDir), "backy.yml", "")
		t.Chdir(t.TempDir())
		t.Setenv("HOME", home)

		got, err := Find("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, GlobalConfigDir, "backy.yml"), got)
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())

		_, err := Find("")
		require.Error(t, err)
	})
}

func TestParseCron(t *testing.T) {
	sched, err := ParseCron("0 0 1 * * *")
	require.NoError(t, err)

	from := time.Date(2024, 3, 10, 0, 30, 0, 0, time.Local)
	assert.Equal(t, time.Date(2024, 3, 10, 1, 0, 0, 0, time.Local), sched.Next(from))

	_, err = ParseCron("")
	assert.Error(t, err)
	_, err = ParseCron("0 1 * * *")
	assert.Error(t, err)
}

func TestIsLocalHost(t *testing.T) {
	for _, h := range []string{"", "localhost", "127.0.0.1", " localhost "} {
		assert.True(t, IsLocalHost(h), h)
	}
	for _, h := range []string{"db1", "10.0.0.1", "user@host"} {
		assert.False(t, IsLocalHost(h), h)
	}
}

func TestTargetOptions_Wants(t *testing.T) {
	assert.True(t, TargetOptions{}.Wants(true))
	assert.True(t, TargetOptions{}.Wants(false))
	assert.True(t, TargetOptions{On: []string{OnSuccess}}.Wants(true))
	assert.False(t, TargetOptions{On: []string{OnSuccess}}.Wants(false))
}

func TestExpandVars(t *testing.T) {
	t.Setenv("FROM_OS", "os")
	vars := map[string]string{"ROOT": "/srv"}

	got, err := ExpandVars("$ROOT/${FROM_OS}/x", vars)
	require.NoError(t, err)
	assert.Equal(t, "/srv/os/x", got)

	got, err = ExpandVars("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}

func TestSplitBinding(t *testing.T) {
	k, v, err := SplitBinding("A=b=c")
	require.NoError(t, err)
	assert.Equal(t, "A", k)
	assert.Equal(t, "b=c", v)

	_, _, err = SplitBinding("novalue")
	assert.Error(t, err)
	_, _, err = SplitBinding("=x")
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/abs/x", ResolvePath("/base", "/abs/x"))
	assert.Equal(t, "/base/rel/x", ResolvePath("/base", "rel/x"))
	assert.Equal(t, "", ResolvePath("/base", ""))
}

func TestReadEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cmd.env", "A=1\n# comment\nB=\"two words\"\n")

	vars, err := ReadEnvFile(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "two words"}, vars)

	_, err = ReadEnvFile(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}
