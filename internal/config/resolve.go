package config

const DefaultProfileName = "main"

// ResolveProfile determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. the loaded config's default_profile (itself env-overridable)
// 3. "main"
func ResolveProfile(flagOverride string, cfg *Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfileName
}
