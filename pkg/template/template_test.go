package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/slotexec/internal/config"
	itls "github.com/loykin/slotexec/internal/tls"
)

func TestGenerateSetsSize(t *testing.T) {
	g := NewGenerator()
	tpl, err := g.Generate(TypeMemory, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if tpl.Slots.Size != 5 {
		t.Fatalf("expected default size 5, got %d", tpl.Slots.Size)
	}
	tpl, err = g.Generate(TypeLocal, 9)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if tpl.Slots.Size != 9 || tpl.Slots.DSN != "sqlite://slotexec.db" {
		t.Fatalf("unexpected template %+v", tpl.Slots)
	}
}

func TestGenerateUnknownType(t *testing.T) {
	_, err := NewGenerator().Generate("nope", 3)
	if err == nil || !strings.Contains(err.Error(), "unknown template type") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

// Every generated document must load through the real config loader.
func TestGeneratedTOMLLoads(t *testing.T) {
	t.Setenv("PGPASSWORD", "pw")
	t.Setenv("REDIS_PASSWORD", "")
	t.Setenv("CLICKHOUSE_PASSWORD", "")
	g := NewGenerator()
	for _, typ := range g.GetSupportedTypes() {
		t.Run(typ, func(t *testing.T) {
			b, err := g.GenerateTOML(TemplateType(typ), 4)
			if err != nil {
				t.Fatalf("toml: %v", err)
			}
			p := filepath.Join(t.TempDir(), "slotexec.toml")
			if err := os.WriteFile(p, b, 0o644); err != nil {
				t.Fatal(err)
			}
			c, err := config.Load(p)
			if err != nil {
				t.Fatalf("load %s:\n%s\n%v", typ, b, err)
			}
			if c.Slots.Size != 4 {
				t.Fatalf("size %d", c.Slots.Size)
			}
			if strings.Contains(c.Engine.DSN, "${") {
				t.Fatalf("engine dsn not expanded: %q", c.Engine.DSN)
			}
		})
	}
}

func TestPostgresTemplateDurations(t *testing.T) {
	b, err := NewGenerator().GenerateTOML(TypePostgres, 5)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{"[execution]", "30s", "[metrics]"} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in:\n%s", want, s)
		}
	}
}

// The redis layout listens on all interfaces, so it ships [server.tls]; the
// loaded section must be enough for the listener to come up.
func TestRedisTemplateServesTLS(t *testing.T) {
	t.Setenv("PGPASSWORD", "pw")
	b, err := NewGenerator().GenerateTOML(TypeRedis, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "[server.tls]") {
		t.Fatalf("missing [server.tls] in:\n%s", b)
	}
	p := filepath.Join(t.TempDir(), "slotexec.toml")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := config.Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c.Server.TLS.Dir = filepath.Join(t.TempDir(), c.Server.TLS.Dir)
	tc, err := itls.SetupTLS(c.Server)
	if err != nil {
		t.Fatalf("tls setup: %v", err)
	}
	if tc == nil || len(tc.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %+v", tc)
	}
	if _, err := os.Stat(filepath.Join(c.Server.TLS.Dir, itls.CertFileName)); err != nil {
		t.Fatalf("certificate not written: %v", err)
	}
}
