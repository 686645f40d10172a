package core

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
)

const redacted = "[REDACTED]"

// Secret is a string that never prints its value.
//
// fmt, slog and encoding/json all see the redacted form; Reveal returns the
// raw value for handing to a signing tool.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v redacted as well.
func (s Secret) GoString() string { return `"` + s.String() + `"` }

func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalYAML() (any, error) { return s.String(), nil }

// Reveal returns the raw secret value.
func (s Secret) Reveal() string { return string(s) }

// CredentialSource records where the certificate path was resolved from.
type CredentialSource string

const (
	// SourceEnvVar: an environment variable.
	SourceEnvVar CredentialSource = "env"
	// SourceFilePath: the pipeline configuration file or a command-line flag.
	SourceFilePath CredentialSource = "file"
)

// Credential is the certificate material handed to signing backends.
type Credential struct {
	CertificatePath string           `json:"certificate_path" yaml:"certificate_path"`
	Password        Secret           `json:"password" yaml:"password"`
	Source          CredentialSource `json:"source" yaml:"source"`
}

// LogValue logs the certificate file name and source only.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("certificate", filepath.Base(c.CertificatePath)),
		slog.String("source", string(c.Source)),
		slog.Bool("has_password", c.Password != ""),
	)
}
