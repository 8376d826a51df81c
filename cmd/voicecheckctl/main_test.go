package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sipuha/voicecheck/internal/auth"
	"sipuha/voicecheck/internal/migrations"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setupEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	t.Setenv("VOICECHECK_CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_TOKEN_SECRET", testSecret)
	t.Setenv("AUTH_TOKEN_ISSUER", "voicecheck")
	t.Setenv("AUTH_TOKEN_TTL_SEC", "")
	t.Setenv("AUTH_USER_STATE_FILE", path)
	t.Setenv("AUTH_BOOTSTRAP_USERNAME", "")
	t.Setenv("AUTH_BOOTSTRAP_PASSWORD", "")
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRootCommandHelp(t *testing.T) {
	code, stdout, _ := runCLI(t, "")
	if code != 0 {
		t.Fatalf("run(nil) exit code = %d, want 0", code)
	}
	if stdout == "" {
		t.Fatalf("expected help output on stdout")
	}
}

func TestRootCommandUnknown(t *testing.T) {
	code, _, stderr := runCLI(t, "", "nonexistent")
	if code != 1 {
		t.Fatalf("run(nonexistent) exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Fatalf("expected unknown command message, got %q", stderr)
	}
}

func TestSubcommandRegistration(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &stdout, &stderr)

	want := map[string][]string{
		"user":  {"add", "activate", "deactivate", "show"},
		"token": {"issue"},
		"db":    {"migrate", "status"},
	}
	for parent, children := range want {
		cmd, _, err := root.Find([]string{parent})
		if err != nil || cmd.Name() != parent {
			t.Fatalf("subcommand %q not found: %v", parent, err)
		}
		for _, child := range children {
			sub, _, err := root.Find([]string{parent, child})
			if err != nil || sub.Name() != child {
				t.Fatalf("subcommand %q %q not found: %v", parent, child, err)
			}
		}
	}
}

func TestUserLifecycle(t *testing.T) {
	path := setupEnv(t)

	code, stdout, stderr := runCLI(t, "Secret-Passw0rd\n", "user", "add", "alice", "--email", "alice@example.com", "--password-stdin")
	if code != 0 {
		t.Fatalf("user add exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "saved user alice (active=true)") {
		t.Fatalf("unexpected user add output %q", stdout)
	}

	code, stdout, stderr = runCLI(t, "", "user", "show", "alice")
	if code != 0 {
		t.Fatalf("user show exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "alice@example.com") || !strings.Contains(stdout, "active:     true") {
		t.Fatalf("unexpected user show output %q", stdout)
	}
	if strings.Contains(stdout, "argon2id") {
		t.Fatalf("user show must not print the password hash")
	}

	code, _, stderr = runCLI(t, "", "user", "deactivate", "alice")
	if code != 0 {
		t.Fatalf("user deactivate exit %d: %s", code, stderr)
	}
	users, err := auth.NewFileUserStore(path)
	if err != nil {
		t.Fatalf("reopen user store: %v", err)
	}
	u, err := users.GetByUsername("alice")
	if err != nil || u.IsActive {
		t.Fatalf("expected alice to be inactive, got %+v, %v", u, err)
	}

	code, _, stderr = runCLI(t, "", "token", "issue", "alice")
	if code != 1 || !strings.Contains(stderr, "inactive") {
		t.Fatalf("expected token issue to refuse an inactive user, got %d %q", code, stderr)
	}

	if code, _, stderr = runCLI(t, "", "user", "activate", "alice"); code != 0 {
		t.Fatalf("user activate exit %d: %s", code, stderr)
	}
	code, stdout, stderr = runCLI(t, "", "token", "issue", "alice", "--header")
	if code != 0 {
		t.Fatalf("token issue exit %d: %s", code, stderr)
	}
	token := strings.TrimPrefix(strings.TrimSpace(stdout), "Authorization: Bearer ")
	if token == strings.TrimSpace(stdout) {
		t.Fatalf("expected an Authorization header line, got %q", stdout)
	}

	tokens, err := auth.NewTokenService([]byte(testSecret), "voicecheck")
	if err != nil {
		t.Fatalf("NewTokenService() error: %v", err)
	}
	claims, ok := tokens.Verify(token)
	if !ok || claims.Subject != "alice" {
		t.Fatalf("expected issued token to verify for alice, got %+v %v", claims, ok)
	}
}

func TestUserAddRejects(t *testing.T) {
	setupEnv(t)

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"no password", "", []string{"user", "add", "bob"}},
		{"weak password", "", []string{"user", "add", "bob", "--password", "short"}},
		{"both password flags", "Secret-Passw0rd\n", []string{"user", "add", "bob", "--password", "Secret-Passw0rd", "--password-stdin"}},
		{"missing username", "", []string{"user", "add"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, tt.stdin, tt.args...); code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
		})
	}
}

func TestUnknownUser(t *testing.T) {
	setupEnv(t)
	for _, args := range [][]string{
		{"user", "show", "ghost"},
		{"user", "activate", "ghost"},
		{"token", "issue", "ghost"},
	} {
		code, _, stderr := runCLI(t, "", args...)
		if code != 1 || !strings.Contains(stderr, "not found") {
			t.Fatalf("%v: expected not found, got %d %q", args, code, stderr)
		}
	}
}

func TestMissingSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("AUTH_TOKEN_SECRET", "")
	code, _, stderr := runCLI(t, "", "user", "show", "alice")
	if code != 1 || !strings.Contains(stderr, "AUTH_TOKEN_SECRET") {
		t.Fatalf("expected config error, got %d %q", code, stderr)
	}
}

func TestDBCommandsNeedDatabase(t *testing.T) {
	setupEnv(t)
	for _, args := range [][]string{{"db", "migrate"}, {"db", "status"}} {
		code, _, stderr := runCLI(t, "", args...)
		if code != 1 || !strings.Contains(stderr, "DATABASE_URL") {
			t.Fatalf("%v: expected DATABASE_URL error, got %d %q", args, code, stderr)
		}
	}
}

func TestWriteStatusTable(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := writeStatusTable(&buf, []migrations.Status{
		{Name: "0001_create_users.sql", Applied: true, AppliedAt: at},
		{Name: "0002_users_email_lower_key.sql"},
	})
	if err != nil {
		t.Fatalf("writeStatusTable() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "true") || !strings.Contains(lines[1], "2026-03-01T12:00:00Z") {
		t.Fatalf("unexpected applied row %q", lines[1])
	}
	if !strings.Contains(lines[2], "false") || !strings.HasSuffix(lines[2], "-") {
		t.Fatalf("unexpected pending row %q", lines[2])
	}
}
