package config

import (
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentPaper       = "paper"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	// EnvironmentDevelopment is a local run against a test streamer.
	EnvironmentDevelopment = environmentDevelopment
	// EnvironmentPaper streams from the broker's paper trading endpoint.
	EnvironmentPaper = environmentPaper
	// EnvironmentProduction streams live market data for a funded account.
	EnvironmentProduction = environmentProduction
	// EnvironmentStaging mirrors production against a staging streamer.
	EnvironmentStaging = environmentStaging
)

var environmentAliases = map[string]string{
	"dev":         environmentDevelopment,
	"local":       environmentDevelopment,
	"sandbox":     environmentPaper,
	"prod":        environmentProduction,
	"live":        environmentProduction,
	"producation": environmentProduction,
	"stag":        environmentStaging,
	"stagging":    environmentStaging,
}

// StreamerPolicy is how strict startup is about the streamer connection in
// one deployment environment.
type StreamerPolicy struct {
	Environment string
	// FatalExpiredToken refuses to start when the streamer token has expired
	// instead of attempting a login that will be rejected.
	FatalExpiredToken bool
	// RequireTLS rejects plain ws:// streamer URLs.
	RequireTLS bool
}

var streamerPolicies = map[string]StreamerPolicy{
	environmentPaper:      {Environment: environmentPaper, RequireTLS: true},
	environmentStaging:    {Environment: environmentStaging, FatalExpiredToken: true, RequireTLS: true},
	environmentProduction: {Environment: environmentProduction, FatalExpiredToken: true, RequireTLS: true},
}

func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}

	env := getAppEnvironment()
	if envPath, ok := envPaths[env]; ok {
		if path == defaultPath || path == envPath {
			return envPath
		}
	}

	return path
}

// AppEnvironment is the canonical APP_ENV value, development when unset.
func AppEnvironment() string {
	return getAppEnvironment()
}

// PolicyFor returns the streamer policy of env. Unknown environments get the
// permissive development policy.
func PolicyFor(env string) StreamerPolicy {
	if p, ok := streamerPolicies[env]; ok {
		return p
	}
	return StreamerPolicy{Environment: env}
}

// IsProductionLike reports whether env refuses to start with an expired
// streamer token.
func IsProductionLike(env string) bool {
	return PolicyFor(env).FatalExpiredToken
}

func (p StreamerPolicy) checkURL(url string) bool {
	if !p.RequireTLS {
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(url)), "wss://")
}
