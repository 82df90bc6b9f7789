package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/Comcast/automata/blueprint"
)

const doubleYAML = `
name: double
appId: app1
doc: Doubles **n** on each GO.
eventSchemas:
  GO: ""
transition:
  source: "return {n: _.state.n * 2};"
initialState:
  n: 1
`

func run(t *testing.T, v *viper.Viper, args ...string) string {
	root := newRootCmd(v)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("AUTOMATA_HTTP_ADDR", ":9999")
	t.Setenv("AUTOMATA_ENGINE_RETRIES", "7")

	v := viper.New()
	newRootCmd(v)
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.HTTP.Addr)
	require.Equal(t, 7, cfg.Engine.Retries)
	require.Equal(t, "mem", cfg.Storage.Driver)
	require.Equal(t, 1024, cfg.HTTP.MaxConns)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "automatad.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(`
storage:
  driver: bolt
  path: `+filepath.Join(dir, "automata.db")+`
engine:
  timeout: 1s
mqtt:
  mirror: [a1, a2]
`), 0644))

	v := viper.New()
	newRootCmd(v)
	v.Set("config", filename)
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.Storage.Driver)
	require.Equal(t, time.Second, cfg.Engine.Timeout)
	require.Equal(t, []string{"a1", "a2"}, cfg.MQTT.Mirror)

	st, err := openStorage(context.Background(), cfg.Storage)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("AUTOMATA_STORAGE_DRIVER", "sqlite")

	v := viper.New()
	newRootCmd(v)
	_, err := loadConfig(v)
	require.Error(t, err)
}

func TestBlueprintCommands(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "double.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(doubleYAML), 0644))

	c, err := blueprint.ParseYAML([]byte(doubleYAML))
	require.NoError(t, err)
	id, canonical, err := blueprint.ID(c)
	require.NoError(t, err)

	v := viper.New()

	require.Equal(t, id, strings.TrimSpace(run(t, v, "blueprint", "id", filename)))
	require.Equal(t, string(canonical), strings.TrimSpace(run(t, v, "blueprint", "json", filename)))
	require.Contains(t, run(t, v, "blueprint", "show", filename), "blueprintId: "+id)
	require.Contains(t, run(t, v, "blueprint", "doc", filename), "<strong>n</strong>")

	key := filepath.Join(dir, "key")
	run(t, v, "keygen", "--out", key)
	pub, err := os.ReadFile(key + ".pub")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(pub), "ssh-ed25519 "))

	var signed struct {
		Content   json.RawMessage `json:"content"`
		Signature string          `json:"signature"`
	}
	out := run(t, v, "blueprint", "sign", filename, "--key", key, "--account", "acct1")
	require.NoError(t, json.Unmarshal([]byte(out), &signed))

	sc, err := blueprint.Parse(signed.Content)
	require.NoError(t, err)
	sid, scanonical, err := blueprint.ID(sc)
	require.NoError(t, err)
	require.Equal(t, id, sid)
	require.NoError(t, blueprint.Ed25519Verifier{}.Verify(scanonical, signed.Signature, string(pub)))
}

func TestBuiltinsCommand(t *testing.T) {
	out := run(t, viper.New(), "blueprint", "builtins")
	require.Contains(t, out, "counter ")
	require.Contains(t, out, "toggle ")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("AUTOMATA_AUTH_JWTSECRET", "shh")
	out := run(t, viper.New(), "token", "--tenant", "t1", "--subject", "s1", "--scope", "automata:read:*")
	require.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."))
}

func TestBlueprintTestCommand(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "double.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(doubleYAML), 0644))
	session := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(session, []byte(`
steps:
  - eventType: GO
    state: {n: 2}
  - eventType: GO
    state: {n: 4}
`), 0644))

	out := run(t, viper.New(), "blueprint", "test", filename, session, "--format", "mermaid")
	require.Contains(t, out, "v000001 --> v000002 : GO")

	require.NoError(t, os.WriteFile(session, []byte(`
steps:
  - eventType: GO
    state: {n: 3}
`), 0644))
	root := newRootCmd(viper.New())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"blueprint", "test", filename, session})
	require.Error(t, root.Execute())
}
