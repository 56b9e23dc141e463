package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "slotexec.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Default()
	if c.Slots.Size != 5 || c.Engine.DSN != d.Engine.DSN || c.Server.BasePath != "/api" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Execution.Timeout != 0 || c.Execution.ReleaseTimeout != 5*time.Second {
		t.Fatalf("unexpected execution defaults: %+v", c.Execution)
	}
}

func TestLoad_Full(t *testing.T) {
	file := writeTOML(t, `
[slots]
size = 8
dsn = "postgres://u:p@db:5432/app?sslmode=disable"
table_prefix = "tenant_"

[engine]
dsn = "clickhouse://ch:9000/default"
max_open_conns = 16

[execution]
timeout = "30s"
release_timeout = "2s"

[history]
dsns = ["sqlite:///var/lib/slotexec/history.db", "opensearch://search:9200/slotexec"]

[log]
level = "debug"
format = "json"
  [log.file]
  path = "/var/log/slotexec.log"
  max_size_mb = 50

[server]
listen = "0.0.0.0:8480"
base_path = "/v1"
rate_limit = 20.5
rate_burst = 40
  [server.tls]
  enabled = true
  dir = "/etc/slotexec/tls"
  auto_generate = true

[metrics]
enabled = true
listen = ":9100"
`)
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Slots.Size != 8 || c.Slots.TablePrefix != "tenant_" || c.Slots.DSN == "" {
		t.Fatalf("slots: %+v", c.Slots)
	}
	if c.Engine.DSN != "clickhouse://ch:9000/default" || c.Engine.MaxOpenConns != 16 {
		t.Fatalf("engine: %+v", c.Engine)
	}
	if c.Execution.Timeout != 30*time.Second || c.Execution.ReleaseTimeout != 2*time.Second {
		t.Fatalf("execution: %+v", c.Execution)
	}
	want := []string{"sqlite:///var/lib/slotexec/history.db", "opensearch://search:9200/slotexec"}
	if !reflect.DeepEqual(c.History.DSNs, want) {
		t.Fatalf("history: %v", c.History.DSNs)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" || c.Log.File.Path != "/var/log/slotexec.log" || c.Log.File.MaxSizeMB != 50 {
		t.Fatalf("log: %+v", c.Log)
	}
	if c.Server.BasePath != "/v1" || c.Server.RateLimit != 20.5 || c.Server.RateBurst != 40 {
		t.Fatalf("server: %+v", c.Server)
	}
	if c.Server.TLS == nil || !c.Server.TLS.Enabled || !c.Server.TLS.AutoGenerate {
		t.Fatalf("tls: %+v", c.Server.TLS)
	}
	if !c.Metrics.Enabled || c.Metrics.Listen != ":9100" {
		t.Fatalf("metrics: %+v", c.Metrics)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	file := writeTOML(t, "[slots]\nsize = 3\n")
	t.Setenv("SLOTEXEC_SLOTS_SIZE", "7")
	t.Setenv("SLOTEXEC_EXECUTION_TIMEOUT", "1500ms")
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Slots.Size != 7 {
		t.Fatalf("env should override file: size=%d", c.Slots.Size)
	}
	if c.Execution.Timeout != 1500*time.Millisecond {
		t.Fatalf("timeout=%v", c.Execution.Timeout)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"zero size":      "[slots]\nsize = 0\n",
		"bad base path":  "[server]\nbase_path = \"api\"\n",
		"bad level":      "[log]\nlevel = \"loud\"\n",
		"tls no certs":   "[server.tls]\nenabled = true\n",
		"negative limit": "[server]\nrate_limit = -1\n",
		"malformed toml": "[slots\nsize = 1\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTOML(t, data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoad_ExpandsDSNReferences(t *testing.T) {
	t.Setenv("SLOTEXEC_TEST_DB_PASSWORD", "pw")
	file := writeTOML(t, `
[slots]
dsn = "postgres://app:${SLOTEXEC_TEST_DB_PASSWORD}@db/app"

[engine]
dsn = "postgres://app:${SLOTEXEC_TEST_DB_PASSWORD}@db/app"

[history]
dsns = ["clickhouse://${SLOTEXEC_TEST_DB_PASSWORD}@ch:9000/audit"]
`)
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Slots.DSN != "postgres://app:pw@db/app" || c.Engine.DSN != c.Slots.DSN {
		t.Fatalf("dsn not expanded: %q / %q", c.Slots.DSN, c.Engine.DSN)
	}
	if len(c.History.DSNs) != 1 || c.History.DSNs[0] != "clickhouse://pw@ch:9000/audit" {
		t.Fatalf("history dsns not expanded: %v", c.History.DSNs)
	}
}
