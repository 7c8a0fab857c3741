package main

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/config"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/secrets"
)

const defaultSecretFallbackFile = ".secrets.local"

// newSecretFetcher builds the Secret Manager resolver from raw environment values, before the
// typed configuration exists.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{
		secrets.WithEnvironment(strings.ToLower(valueOr(get("API_SECURITY_ENVIRONMENT"), localEnvironment))),
		secrets.WithLogger(logger),
		secrets.WithFallbackFile(valueOr(get("API_SECRET_FALLBACK_FILE"), defaultSecretFallbackFile)),
	}
	if project := valueOr(get("API_SECRET_DEFAULT_PROJECT_ID"), get("API_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if projects := secretProjectMapFromEnv(env); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if file := get("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve to a value before startup.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	backend := strings.ToLower(strings.TrimSpace(env["API_INVENTORY_BACKEND"]))
	if backend == config.InventoryBackendRedis && strings.TrimSpace(env["API_INVENTORY_REDIS_PASSWORD"]) != "" {
		required = append(required, "Inventory.Redis.Password")
	}
	slices.Sort(required)
	return slices.Compact(required)
}

// secretProjectMapFromEnv reads API_SECRET_PROJECT_IDS ("env=project,...") keyed by lowercase
// environment label.
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for label, project := range keyValuePairs(env["API_SECRET_PROJECT_IDS"]) {
		projects[strings.ToLower(label)] = project
	}
	return projects
}

// secretVersionPinsFromEnv reads API_SECRET_VERSION_PINS ("[env:]ref=version,..."). References
// are normalised to secret:// and keep their optional environment scope.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range keyValuePairs(env["API_SECRET_VERSION_PINS"]) {
		scope := ""
		if label, rest, ok := strings.Cut(ref, ":"); ok && !strings.HasPrefix(rest, "//") && label != "" {
			scope = strings.ToLower(strings.TrimSpace(label)) + ":"
			ref = strings.TrimSpace(rest)
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[scope+ref] = version
	}
	return pins
}

// keyValuePairs parses "k=v,k2=v2", skipping entries with an empty side.
func keyValuePairs(raw string) map[string]string {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		pairs[key] = value
	}
	return pairs
}
