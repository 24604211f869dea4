package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

func setEnv(t *testing.T, kvs map[string]string) {
	t.Helper()
	for k, v := range kvs {
		if err := os.Setenv(k, v); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { os.Unsetenv(k) })
	}
}

func TestEnvironmentDefaultsToDev(t *testing.T) {
	os.Unsetenv("ENVIRONMENT")
	s := New()
	if s.Environment() != "dev" {
		t.Errorf("Environment() = %q, want dev", s.Environment())
	}
}

func TestEnvironmentReadsOverride(t *testing.T) {
	setEnv(t, map[string]string{"ENVIRONMENT": "prod"})
	s := New()
	if s.Environment() != "prod" {
		t.Errorf("Environment() = %q, want prod", s.Environment())
	}
}

func TestConnectionResolvesFieldsAndExtras(t *testing.T) {
	setEnv(t, map[string]string{
		"CONNECTION_INFO__FEED1__DBTYPE":   "oracle",
		"CONNECTION_INFO__FEED1__SERVER":   "db.internal",
		"CONNECTION_INFO__FEED1__PORT":     "1521",
		"CONNECTION_INFO__FEED1__DATABASE": "FEEDDB",
		"CONNECTION_INFO__FEED1__USERNAME": "svc",
		"CONNECTION_INFO__FEED1__PASSWORD": "secret",
		"CONNECTION_INFO__FEED1__SCHEMA":   "dbo",
	})
	s := New()
	profile, err := s.Connection("feed1")
	if err != nil {
		t.Fatalf("Connection() error = %v", err)
	}
	if profile.Kind != types.KindOracle {
		t.Errorf("Kind = %v, want KindOracle", profile.Kind)
	}
	if profile.Host != "db.internal" || profile.Port != 1521 || profile.Database != "FEEDDB" {
		t.Errorf("profile = %+v", profile)
	}
	if profile.Extras["schema"] != "dbo" {
		t.Errorf("Extras[schema] = %q, want dbo", profile.Extras["schema"])
	}
}

func TestConnectionMissingReturnsMissingSecretError(t *testing.T) {
	s := New()
	if _, err := s.Connection("does-not-exist"); err == nil {
		t.Fatal("expected error for an unconfigured connection name, got nil")
	}
}

func TestConnectionRejectsUnknownDBType(t *testing.T) {
	setEnv(t, map[string]string{"CONNECTION_INFO__BAD__DBTYPE": "nosuchdb"})
	s := New()
	if _, err := s.Connection("bad"); err == nil {
		t.Fatal("expected error for an unrecognized dbtype, got nil")
	}
}

func TestPGPKeyRequiresBothFields(t *testing.T) {
	s := New()
	if _, err := s.PGPKey("unset"); err == nil {
		t.Fatal("expected error when neither PGP field is set, got nil")
	}

	setEnv(t, map[string]string{"PGP_PRIVATE_KEY__SRC__PASS_ENC": "base64stuff"})
	if _, err := s.PGPKey("src"); err == nil {
		t.Fatal("expected error when only PASS_ENC is set, got nil")
	}

	setEnv(t, map[string]string{"PGP_PRIVATE_KEY__SRC__KEY_FILE_PATH": "/keys/src.asc"})
	profile, err := s.PGPKey("src")
	if err != nil {
		t.Fatalf("PGPKey() error = %v", err)
	}
	if !profile.PublicKeyMode() {
		t.Error("expected PublicKeyMode() to be true once both fields are set")
	}
}

func TestGPGPassphraseResolves(t *testing.T) {
	s := New()
	if _, err := s.GPGPassphrase("unset"); err == nil {
		t.Fatal("expected error when no passphrase is configured, got nil")
	}

	setEnv(t, map[string]string{"GPG_PRIVATE_KEY__SRC__PASSPHRASE": "hunter2"})
	profile, err := s.GPGPassphrase("src")
	if err != nil {
		t.Fatalf("GPGPassphrase() error = %v", err)
	}
	if profile.Passphrase != "hunter2" {
		t.Errorf("Passphrase = %q, want hunter2", profile.Passphrase)
	}
	if profile.PublicKeyMode() {
		t.Error("expected PublicKeyMode() to be false for passphrase-only profiles")
	}
}

func TestBlobRequiresAccountAndContainer(t *testing.T) {
	s := New()
	if _, err := s.Blob("MDP_INBND"); err == nil {
		t.Fatal("expected error for an unconfigured blob family, got nil")
	}

	setEnv(t, map[string]string{
		"MDP_INBND__ACCOUNT_NAME":   "acct",
		"MDP_INBND__CONTAINER_NAME": "container",
		"MDP_INBND__SAS_TOKEN":      "sv=2024",
		"MDP_INBND__FILEPATH":       "/in",
	})
	endpoint, err := s.Blob("MDP_INBND")
	if err != nil {
		t.Fatalf("Blob() error = %v", err)
	}
	if endpoint.AccountName != "acct" || endpoint.ContainerName != "container" {
		t.Errorf("endpoint = %+v", endpoint)
	}
}

func writeCatalog(t *testing.T, yamlDoc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewFromFileMissingPathFallsBackToEnvOnly(t *testing.T) {
	s, err := NewFromFile("")
	require.NoError(t, err)
	assert.Equal(t, "dev", s.Environment())
}

func TestNewFromFileNonexistentPathDegradesGracefully(t *testing.T) {
	s, err := NewFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dev", s.Environment())
}

func TestNewFromFileRejectsMalformedYAML(t *testing.T) {
	path := writeCatalog(t, "not: [valid: yaml")
	_, err := NewFromFile(path)
	assert.Error(t, err)
}

func TestNewFromFileLoadsEnvironmentAndConnection(t *testing.T) {
	os.Unsetenv("ENVIRONMENT")
	path := writeCatalog(t, `
environment: staging
connections:
  feed1:
    dbtype: mariadb
    server: catalog-db.internal
    port: 3306
    database: FEEDDB
    username: catuser
    password: catpass
`)
	s, err := NewFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", s.Environment())

	profile, err := s.Connection("feed1")
	require.NoError(t, err)
	assert.Equal(t, types.KindMariaDB, profile.Kind)
	assert.Equal(t, "catalog-db.internal", profile.Host)
	assert.Equal(t, 3306, profile.Port)
}

func TestEnvironmentVariableOverridesCatalogValue(t *testing.T) {
	path := writeCatalog(t, `
connections:
  feed1:
    dbtype: mariadb
    server: catalog-db.internal
    port: 3306
    database: FEEDDB
`)
	setEnv(t, map[string]string{"CONNECTION_INFO__FEED1__SERVER": "env-wins.internal"})

	s, err := NewFromFile(path)
	require.NoError(t, err)
	profile, err := s.Connection("feed1")
	require.NoError(t, err)
	assert.Equal(t, "env-wins.internal", profile.Host, "env var should win over catalog")
	assert.Equal(t, "FEEDDB", profile.Database, "catalog fallback should still apply")
}

func TestHSMRequiresAllFields(t *testing.T) {
	s := New()
	if _, err := s.HSM(); err == nil {
		t.Fatal("expected error for unconfigured HSM settings, got nil")
	}

	setEnv(t, map[string]string{
		"HSM_HOST":            "hsm.internal",
		"HSM_PORT":            "9000",
		"HSM_DPK":             "dpk-value",
		"HSM_JAVA_CLASS_PATH": "/opt/hsm/client.jar",
		"HSM_JAVA_CLASS_NAME": "com.example.HSMClient",
	})
	hsm, err := s.HSM()
	if err != nil {
		t.Fatalf("HSM() error = %v", err)
	}
	if hsm.Host != "hsm.internal" || hsm.JavaClassName != "com.example.HSMClient" {
		t.Errorf("hsm = %+v", hsm)
	}
}
