package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/releasepost/releasepost/internal/core"
)

// EnvPrefix prefixes every generic environment key (RELEASEPOST_WORKERS, ...).
const EnvPrefix = "RELEASEPOST"

// Viper keys.
const (
	keyRoot            = "root"
	keyTransforms      = "transforms"
	keySignExtensions  = "sign_extensions"
	keyTargetOS        = "target_os"
	keyProductName     = "product_name"
	keyPrimaryTool     = "primary_tool"
	keyFallbackTool    = "fallback_tool"
	keyWorkers         = "workers"
	keySignConcurrency = "sign_concurrency"
	keySignRate        = "sign_rate"
	keyRequireRoot     = "require_root"
	keyRequireFiles    = "require_files"
	keyReportPath      = "report_path"
	keyReportFormat    = "report_format"
	keyLogLevel        = "log_level"
	keyLogFormat       = "log_format"
	keyOTLPEndpoint    = "otlp_endpoint"
	keyOTLPInsecure    = "otlp_insecure"

	keyCertEnvPath      = "certificate.env_path"
	keyCertEnvPassword  = "certificate.env_password"
	keyCertPath         = "certificate.path"
	keyCertPassword     = "certificate.password"
	keyCertPasswordFile = "certificate.password_file"
)

// Environment variable names understood for certificate material, in
// precedence order.
var (
	CertificatePathEnv     = []string{"CSC_LINK", "WIN_CERT_PATH"}
	CertificatePasswordEnv = []string{"CSC_KEY_PASSWORD", "WIN_CERT_PASSWORD"}
	PasswordFileEnv        = []string{"WIN_CERT_PASSWORD_FILE"}
)

// flagKeys maps viper keys to the flag names that override them.
var flagKeys = map[string]string{
	keyRoot:            "root",
	keyTransforms:      "transforms",
	keySignExtensions:  "sign-extensions",
	keyTargetOS:        "target-os",
	keyProductName:     "product-name",
	keyPrimaryTool:     "primary-tool",
	keyFallbackTool:    "fallback-tool",
	keyWorkers:         "workers",
	keySignConcurrency: "sign-concurrency",
	keySignRate:        "sign-rate",
	keyRequireRoot:     "require-root",
	keyRequireFiles:    "require-files",
	keyReportPath:      "report",
	keyReportFormat:    "report-format",
	keyLogLevel:        "log-level",
	keyLogFormat:       "log-format",
	keyOTLPEndpoint:    "otlp-endpoint",
	keyOTLPInsecure:    "otlp-insecure",
	keyCertPath:        "certificate",
}

// Options controls Load.
type Options struct {
	// ConfigFile is an optional YAML/JSON/TOML config file.
	ConfigFile string

	// Flags, when non-nil, overrides any key whose flag was set explicitly.
	Flags *pflag.FlagSet
}

// Load builds a Config from defaults, an optional config file, the
// environment, and flags.
func Load(opts Options) (Config, error) {
	v := viper.New()
	def := Default()

	v.SetDefault(keyTransforms, strings.Join(def.Transforms, ","))
	v.SetDefault(keySignExtensions, strings.Join(def.SignExtensions, ","))
	v.SetDefault(keyTargetOS, def.TargetOS)
	v.SetDefault(keyPrimaryTool, def.PrimaryTool)
	v.SetDefault(keyFallbackTool, def.FallbackTool)
	v.SetDefault(keyWorkers, def.Workers)
	v.SetDefault(keySignConcurrency, def.SignConcurrency)
	v.SetDefault(keySignRate, def.SignRate)
	v.SetDefault(keyRequireRoot, def.RequireRoot)
	v.SetDefault(keyRequireFiles, def.RequireFiles)
	v.SetDefault(keyReportFormat, def.ReportFormat)
	v.SetDefault(keyLogLevel, def.LogLevel)
	v.SetDefault(keyLogFormat, def.LogFormat)

	for _, key := range []string{
		keyRoot, keyTransforms, keySignExtensions, keyTargetOS, keyProductName,
		keyPrimaryTool, keyFallbackTool, keyWorkers, keySignConcurrency, keySignRate,
		keyRequireRoot, keyRequireFiles, keyReportPath, keyReportFormat, keyLogLevel, keyLogFormat,
		keyOTLPEndpoint, keyOTLPInsecure,
	} {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	// Multi-name bindings: viper returns the first variable that is set and non-empty.
	bindings := map[string][]string{
		keyCertEnvPath:      CertificatePathEnv,
		keyCertEnvPassword:  CertificatePasswordEnv,
		keyCertPasswordFile: PasswordFileEnv,
	}
	for key, names := range bindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &core.ConfigError{
				Kind:    core.KindConfigurationInvalid,
				Message: fmt.Sprintf("read config file %s: %v", opts.ConfigFile, err),
				Cause:   err,
			}
		}
	}

	if opts.Flags != nil {
		for key, name := range flagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := Config{
		Root:            v.GetString(keyRoot),
		Transforms:      splitList(v.Get(keyTransforms)),
		SignExtensions:  splitList(v.Get(keySignExtensions)),
		TargetOS:        strings.ToLower(strings.TrimSpace(v.GetString(keyTargetOS))),
		ProductName:     v.GetString(keyProductName),
		PrimaryTool:     v.GetString(keyPrimaryTool),
		FallbackTool:    v.GetString(keyFallbackTool),
		Workers:         v.GetInt(keyWorkers),
		SignConcurrency: v.GetInt(keySignConcurrency),
		SignRate:        v.GetFloat64(keySignRate),
		RequireRoot:     v.GetBool(keyRequireRoot),
		RequireFiles:    v.GetBool(keyRequireFiles),
		ReportPath:      v.GetString(keyReportPath),
		ReportFormat:    strings.ToLower(v.GetString(keyReportFormat)),
		LogLevel:        v.GetString(keyLogLevel),
		LogFormat:       strings.ToLower(v.GetString(keyLogFormat)),
		OTLPEndpoint:    strings.TrimSpace(v.GetString(keyOTLPEndpoint)),
		OTLPInsecure:    v.GetBool(keyOTLPInsecure),
		Credential: Credential{
			EnvPath:      v.GetString(keyCertEnvPath),
			EnvPassword:  core.Secret(v.GetString(keyCertEnvPassword)),
			Path:         v.GetString(keyCertPath),
			Password:     core.Secret(v.GetString(keyCertPassword)),
			PasswordFile: v.GetString(keyCertPasswordFile),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitList accepts either a comma-separated string (env, flags) or a list
// (config file) and returns trimmed, non-empty elements.
func splitList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	default:
		parts = strings.Split(fmt.Sprint(val), ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("root", "", "build output directory to process")
	fs.String("transforms", strings.Join(def.Transforms, ","), "ordered, comma-separated transforms (strip-maps,sign,verify)")
	fs.String("sign-extensions", strings.Join(def.SignExtensions, ","), "comma-separated signable extensions")
	fs.String("target-os", def.TargetOS, "GOOS signing applies to; empty applies everywhere")
	fs.String("product-name", "", "program name embedded by the fallback signer")
	fs.String("primary-tool", def.PrimaryTool, "primary signing tool")
	fs.String("fallback-tool", def.FallbackTool, "fallback signing tool; empty disables fallback")
	fs.Int("workers", def.Workers, "files processed concurrently")
	fs.Int("sign-concurrency", def.SignConcurrency, "concurrent signing-tool processes")
	fs.Float64("sign-rate", def.SignRate, "signing-tool invocations per second (0 = unlimited)")
	fs.Bool("require-root", def.RequireRoot, "fail when the root is missing or not a directory")
	fs.Bool("require-files", def.RequireFiles, "fail when no artifact is targeted")
	fs.String("report", "", "write the run report to this path")
	fs.String("report-format", def.ReportFormat, "report format: json|yaml")
	fs.String("log-level", def.LogLevel, "log level: debug|info|warn|error")
	fs.String("log-format", def.LogFormat, "log format: text|json")
	fs.String("otlp-endpoint", "", "export traces and metrics over OTLP/gRPC to host:port")
	fs.Bool("otlp-insecure", false, "disable TLS for the OTLP exporter")
	fs.String("certificate", "", "PFX certificate path, used when CSC_LINK and WIN_CERT_PATH are unset")
}
