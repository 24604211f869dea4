// Package settings resolves named connections and keyrings from a static
// catalog: a multi-backend secrets manager collapsed to the single backend
// the pipeline actually needs — a YAML catalog loaded once at startup, with
// every field overridable by the CONNECTION_INFO__*/PGP_PRIVATE_KEY__*/
// GPG_PRIVATE_KEY__*/HSM_* env vars the outer scheduler injects. Env always
// wins over the catalog.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// connectionCatalogEntry mirrors the CONNECTION_INFO__<NAME>__<field> env
// group, keyed by lowercase source-system name in the YAML catalog.
type connectionCatalogEntry struct {
	DBType            string `yaml:"dbtype"`
	Server            string `yaml:"server"`
	Port              int    `yaml:"port"`
	Database          string `yaml:"database"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	Schema            string `yaml:"schema"`
	SecurityMechanism string `yaml:"security_mechanism"`
	Collection        string `yaml:"collection"`
}

type pgpKeyCatalogEntry struct {
	PassEnc     string `yaml:"pass_enc"`
	KeyFilePath string `yaml:"key_file_path"`
}

type gpgPassphraseCatalogEntry struct {
	Passphrase string `yaml:"passphrase"`
}

type blobCatalogEntry struct {
	AccountName   string `yaml:"account_name"`
	ContainerName string `yaml:"container_name"`
	SASToken      string `yaml:"sas_token"`
	FilePath      string `yaml:"filepath"`
}

type hsmCatalogEntry struct {
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	DPK           string `yaml:"dpk"`
	JavaClassPath string `yaml:"java_class_path"`
	JavaClassName string `yaml:"java_class_name"`
}

// catalog is the parsed shape of the settings YAML file (spec_full "static
// Settings catalog"): connection catalog, key catalog, storage locations,
// env name, loaded once and treated as a read-only defaults layer underneath
// the environment.
type catalog struct {
	Environment    string                                `yaml:"environment"`
	Connections    map[string]connectionCatalogEntry    `yaml:"connections"`
	PGPKeys        map[string]pgpKeyCatalogEntry         `yaml:"pgp_keys"`
	GPGPassphrases map[string]gpgPassphraseCatalogEntry `yaml:"gpg_passphrases"`
	BlobEndpoints  map[string]blobCatalogEntry           `yaml:"blob_endpoints"`
	HSM            hsmCatalogEntry                       `yaml:"hsm"`
}

// Store resolves ConnectionProfile and KeyProfile values by name. A Store is
// obtained fresh per task (spec §3: "Obtained fresh per task; never cached
// across jobs") — it layers the process environment over a YAML catalog
// loaded once at process start, so "fresh" still costs nothing beyond a map
// lookup.
type Store struct {
	environment string
	catalog     catalog
}

// New returns a Store bound to the current process environment with no
// backing YAML catalog — every value must come from the environment. Used
// when no settings file is configured (tests, minimal deployments).
func New() *Store {
	return &Store{environment: getEnv("ENVIRONMENT", "dev")}
}

// NewFromFile loads the settings YAML catalog at path and returns a Store
// layering the process environment on top of it. A missing path is not an
// error — it degrades to a pure-environment Store. (The job template
// loader, by contrast, fails when its template cannot be read.)
func NewFromFile(path string) (*Store, error) {
	if path == "" {
		return New(), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, pipelineerrors.Config("load_settings_catalog", fmt.Sprintf("read %s: %v", path, err))
	}

	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, pipelineerrors.Config("load_settings_catalog", fmt.Sprintf("parse %s: %v", path, err))
	}

	env := c.Environment
	if env == "" {
		env = "dev"
	}
	return &Store{environment: getEnv("ENVIRONMENT", env), catalog: c}, nil
}

// Environment returns the deployment environment name (ENVIRONMENT, default
// "dev"), used both for config template rendering and for log tagging.
func (s *Store) Environment() string {
	return s.environment
}

// Connection resolves CONNECTION_INFO__<NAME>__<field> into a
// ConnectionProfile, falling back to the "connections.<name>" entry of the
// YAML catalog for any field the environment leaves unset.
func (s *Store) Connection(name string) (types.ConnectionProfile, error) {
	prefix := fmt.Sprintf("CONNECTION_INFO__%s__", strings.ToUpper(name))
	entry := s.catalog.Connections[strings.ToLower(name)]

	dbtype := getEnv(prefix+"DBTYPE", entry.DBType)
	if dbtype == "" {
		return types.ConnectionProfile{}, pipelineerrors.MissingSecret(
			"resolve_connection", fmt.Sprintf("no connection named %q in environment or settings catalog", name))
	}

	kind, err := parseConnectionKind(dbtype)
	if err != nil {
		return types.ConnectionProfile{}, pipelineerrors.Config("resolve_connection", err.Error())
	}

	port, _ := strconv.Atoi(getEnv(prefix+"PORT", strconv.Itoa(entry.Port)))

	profile := types.ConnectionProfile{
		Kind:     kind,
		Host:     getEnv(prefix+"SERVER", entry.Server),
		Port:     port,
		Database: getEnv(prefix+"DATABASE", entry.Database),
		Username: getEnv(prefix+"USERNAME", entry.Username),
		Password: getEnv(prefix+"PASSWORD", entry.Password),
		Extras:   map[string]string{},
	}

	for extra, fallback := range map[string]string{
		"SCHEMA":             entry.Schema,
		"SECURITY_MECHANISM": entry.SecurityMechanism,
		"COLLECTION":         entry.Collection,
	} {
		if v := getEnv(prefix+extra, fallback); v != "" {
			profile.Extras[strings.ToLower(extra)] = v
		}
	}

	return profile, nil
}

func parseConnectionKind(dbtype string) (types.ConnectionKind, error) {
	switch strings.ToLower(dbtype) {
	case "sqlserver", "mssql":
		return types.KindSQLServer, nil
	case "oracle":
		return types.KindOracle, nil
	case "db2":
		return types.KindDB2, nil
	case "mariadb", "mysql":
		return types.KindMariaDB, nil
	case "mongodb", "document":
		return types.KindDocument, nil
	default:
		return "", fmt.Errorf("unknown dbtype: %s", dbtype)
	}
}

// PGPKey resolves PGP_PRIVATE_KEY__<NAME>__{PASS_ENC,KEY_FILE_PATH}, the
// public-key decryption mode, falling back to "pgp_keys.<name>" in the
// catalog.
func (s *Store) PGPKey(sourceSystemName string) (types.KeyProfile, error) {
	prefix := fmt.Sprintf("PGP_PRIVATE_KEY__%s__", strings.ToUpper(sourceSystemName))
	entry := s.catalog.PGPKeys[strings.ToLower(sourceSystemName)]
	passEnc := getEnv(prefix+"PASS_ENC", entry.PassEnc)
	keyPath := getEnv(prefix+"KEY_FILE_PATH", entry.KeyFilePath)
	if passEnc == "" || keyPath == "" {
		return types.KeyProfile{}, pipelineerrors.MissingSecret(
			"resolve_pgp_key", fmt.Sprintf("no PGP key for source system %q in environment or settings catalog", sourceSystemName))
	}
	return types.KeyProfile{EncryptedPassphrase: passEnc, PrivateKeyPath: keyPath}, nil
}

// GPGPassphrase resolves GPG_PRIVATE_KEY__<NAME>__PASSPHRASE, the
// passphrase-only decryption mode, falling back to "gpg_passphrases.<name>"
// in the catalog.
func (s *Store) GPGPassphrase(sourceSystemName string) (types.KeyProfile, error) {
	key := fmt.Sprintf("GPG_PRIVATE_KEY__%s__PASSPHRASE", strings.ToUpper(sourceSystemName))
	entry := s.catalog.GPGPassphrases[strings.ToLower(sourceSystemName)]
	passphrase := getEnv(key, entry.Passphrase)
	if passphrase == "" {
		return types.KeyProfile{}, pipelineerrors.MissingSecret(
			"resolve_gpg_passphrase", fmt.Sprintf("no GPG passphrase for source system %q in environment or settings catalog", sourceSystemName))
	}
	return types.KeyProfile{Passphrase: passphrase}, nil
}

// BlobEndpoint describes the MDP_INBND__/OIH_INBND__ family of env vars used
// by the transfer task to build the destination URL (spec §6).
type BlobEndpoint struct {
	AccountName   string
	ContainerName string
	SASToken      string
	FilePath      string
}

// Blob resolves a named blob endpoint family, e.g. "MDP_INBND" or "OIH_INBND",
// falling back to "blob_endpoints.<family>" in the catalog.
func (s *Store) Blob(familyName string) (BlobEndpoint, error) {
	prefix := strings.ToUpper(familyName) + "__"
	entry := s.catalog.BlobEndpoints[strings.ToLower(familyName)]
	endpoint := BlobEndpoint{
		AccountName:   getEnv(prefix+"ACCOUNT_NAME", entry.AccountName),
		ContainerName: getEnv(prefix+"CONTAINER_NAME", entry.ContainerName),
		SASToken:      getEnv(prefix+"SAS_TOKEN", entry.SASToken),
		FilePath:      getEnv(prefix+"FILEPATH", entry.FilePath),
	}
	if endpoint.AccountName == "" || endpoint.ContainerName == "" {
		return BlobEndpoint{}, pipelineerrors.MissingSecret(
			"resolve_blob_endpoint", fmt.Sprintf("no blob endpoint family %q in environment or settings catalog", familyName))
	}
	return endpoint, nil
}

// HSMSettings resolves the HSM_* family used by the key-file generator.
type HSMSettings struct {
	Host          string
	Port          string
	DPK           string
	JavaClassPath string
	JavaClassName string
}

// HSM resolves the HSM_* env family, falling back to the "hsm" block of the
// catalog — there is only ever one HSM target per deployment, unlike the
// name-keyed connection/key/blob catalogs.
func (s *Store) HSM() (HSMSettings, error) {
	entry := s.catalog.HSM
	h := HSMSettings{
		Host:          getEnv("HSM_HOST", entry.Host),
		Port:          getEnv("HSM_PORT", entry.Port),
		DPK:           getEnv("HSM_DPK", entry.DPK),
		JavaClassPath: getEnv("HSM_JAVA_CLASS_PATH", entry.JavaClassPath),
		JavaClassName: getEnv("HSM_JAVA_CLASS_NAME", entry.JavaClassName),
	}
	if h.Host == "" || h.Port == "" || h.JavaClassPath == "" || h.JavaClassName == "" {
		return HSMSettings{}, pipelineerrors.MissingSecret("resolve_hsm", "incomplete HSM_* settings in environment or settings catalog")
	}
	return h, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
