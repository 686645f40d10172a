// Package config assembles the pipeline configuration once at startup.
//
// Every field has a single documented precedence order, applied by Load:
//
//	command-line flag > environment variable > config file > default
//
// Credential fields are the exception: environment variables named by the
// packaging tool (CSC_LINK, WIN_CERT_PATH, ...) are kept apart from values
// given in the config file or on the command line, so the credential
// resolver can apply its own ordering and record where a value came from.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/releasepost/releasepost/internal/core"
)

const (
	ReportFormatJSON = "json"
	ReportFormatYAML = "yaml"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Built-in transform names.
const (
	TransformStripMaps = "strip-maps"
	TransformSign      = "sign"
	TransformVerify    = "verify"
)

// DefaultTransforms is the registry order used when none is configured.
var DefaultTransforms = []string{TransformStripMaps, TransformSign}

// Config is the fully resolved pipeline configuration. The key tag names
// the field in validation messages.
type Config struct {
	// Root is the build output directory to process.
	Root string `key:"root"`

	// Transforms is the ordered list of transform names to apply.
	Transforms []string `key:"transforms" validate:"min=1,dive,required"`

	// SignExtensions is the signable-extension allow-list.
	SignExtensions []string `key:"sign_extensions"`

	// TargetOS is the GOOS signing applies to. Empty applies everywhere.
	TargetOS string `key:"target_os"`

	// ProductName is passed to the fallback signer as the program name.
	ProductName string `key:"product_name"`

	PrimaryTool  string `key:"primary_tool" validate:"required"`
	FallbackTool string `key:"fallback_tool"`

	// Workers bounds how many files are processed concurrently. 1 is serial.
	Workers int `key:"workers" validate:"min=1"`

	// SignConcurrency bounds concurrent signing-tool processes.
	SignConcurrency int `key:"sign_concurrency" validate:"min=1"`

	// SignRate limits signing-tool invocations per second. 0 disables the limit.
	SignRate float64 `key:"sign_rate" validate:"gte=0"`

	// RequireRoot makes a missing or non-directory Root a setup failure.
	RequireRoot bool `key:"require_root"`

	// RequireFiles makes a run that targets no artifact a setup failure.
	RequireFiles bool `key:"require_files"`

	ReportPath   string `key:"report_path"`
	ReportFormat string `key:"report_format" validate:"oneof=json yaml"`

	LogLevel  string `key:"log_level"`
	LogFormat string `key:"log_format" validate:"oneof=text json"`

	// OTLPEndpoint, when set, exports run traces and signing metrics over
	// OTLP/gRPC to this host:port.
	OTLPEndpoint string `key:"otlp_endpoint" validate:"omitempty,hostname_port"`
	OTLPInsecure bool   `key:"otlp_insecure"`

	Credential Credential `key:"certificate"`
}

// Credential holds unresolved certificate inputs; see package credential.
type Credential struct {
	// EnvPath is the first non-empty of CSC_LINK, WIN_CERT_PATH.
	EnvPath string
	// EnvPassword is the first non-empty of CSC_KEY_PASSWORD, WIN_CERT_PASSWORD.
	EnvPassword core.Secret

	// Path and Password come from the config file or flags.
	Path     string
	Password core.Secret

	// PasswordFile names a file whose content is the password.
	PasswordFile string
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Transforms:      append([]string(nil), DefaultTransforms...),
		SignExtensions:  append([]string(nil), core.DefaultSignableExtensions...),
		TargetOS:        "windows",
		PrimaryTool:     "signtool",
		FallbackTool:    "osslsigncode",
		Workers:         1,
		SignConcurrency: 1,
		ReportFormat:    ReportFormatJSON,
		LogLevel:        "info",
		LogFormat:       LogFormatText,
	}
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if k := f.Tag.Get("key"); k != "" {
			return k
		}
		return f.Name
	})
	return v
}()

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &core.ConfigError{Kind: core.KindConfigurationInvalid, Message: err.Error(), Cause: err}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return &core.ConfigError{
		Kind:    core.KindConfigurationInvalid,
		Message: strings.Join(msgs, "\n"),
		Cause:   err,
	}
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return name + " must not be empty"
		}
		return fmt.Sprintf("%s must be >= %s (got %v)", name, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be >= %s (got %v)", name, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("invalid %s %q (expected %s)", name, fe.Value(), strings.ReplaceAll(fe.Param(), " ", "|"))
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port (got %q)", name, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}
