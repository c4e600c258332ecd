package macosbuild

import "strings"

// MacOSConfig holds the macOS specific build settings. Empty credential
// fields mean the corresponding step is skipped.
type MacOSConfig struct {
	BundleID              string
	Category              string
	CertNameApplication   string
	CertNameInstaller     string
	NotarizeAppleID       string
	NotarizeApplePassword string
	NotarizeTeamID        string
}

func DefaultMacOSConfig() MacOSConfig {
	return MacOSConfig{
		BundleID: "com.wearezeta.zclient.mac",
		Category: "public.app-category.social-networking",
	}
}

// ResolveMacOSConfig overlays the MACOS_* variables in env on defaults.
// A variable that is unset or empty leaves the default alone.
func ResolveMacOSConfig(env map[string]string, defaults MacOSConfig) MacOSConfig {
	cfg := defaults

	override := func(dst *string, key string) {
		if v := env[key]; v != "" {
			*dst = v
		}
	}

	override(&cfg.BundleID, "MACOS_BUNDLE_ID")
	override(&cfg.CertNameApplication, "MACOS_CERTIFICATE_NAME_APPLICATION")
	override(&cfg.CertNameInstaller, "MACOS_CERTIFICATE_NAME_INSTALLER")
	override(&cfg.NotarizeAppleID, "MACOS_NOTARIZE_APPLE_ID")
	override(&cfg.NotarizeApplePassword, "MACOS_NOTARIZE_APPLE_PASSWORD")
	override(&cfg.NotarizeTeamID, "MACOS_NOTARIZE_TEAM_ID")

	return cfg
}

// EnvFromEnviron turns os.Environ style KEY=value pairs into a map.
func EnvFromEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env
}
