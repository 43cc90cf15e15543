package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type valueKind int

const (
	kindString valueKind = iota
	kindList
	kindDuration
	kindInt
	kindBool
)

type envBinding struct {
	env  string
	path string
	kind valueKind
}

// envBindings maps process variables onto koanf paths of core.Config.
var envBindings = []envBinding{
	{env: "BFF_SERVICE_NAME", path: "service_name"},
	{env: "SQUARE_ENVIRONMENT", path: "environment"},
	{env: "SQUARE_APPLICATION_ID", path: "oauth.application_id"},
	{env: "SQUARE_APPLICATION_SECRET", path: "oauth.application_secret"},
	{env: "SQUARE_SCOPES", path: "oauth.default_scopes", kind: kindList},
	{env: "SQUARE_VERSION", path: "oauth.square_version"},
	{env: "SQUARE_SESSION_PARAM", path: "oauth.session_param", kind: kindBool},
	{env: "SQUARE_REQUEST_TIMEOUT", path: "oauth.request_timeout", kind: kindDuration},
	{env: "SQUARE_IDENTITY_MAX_ATTEMPTS", path: "oauth.identity_max_attempts", kind: kindInt},
	{env: "SQUARE_WEBHOOK_SIGNATURE_KEY", path: "webhook.signature_key"},
	{env: "BFF_REDIRECT_ALLOW_LIST", path: "oauth.redirect_allow_list", kind: kindList},
	{env: "BFF_STATE_TTL", path: "oauth.state_ttl", kind: kindDuration},
	{env: "BFF_WEBHOOK_REPLAY_WINDOW", path: "webhook.replay_window", kind: kindDuration},
	{env: "BFF_WEBHOOK_EVENT_TTL", path: "webhook.event_ttl", kind: kindDuration},
	{env: "BFF_SESSION_SIGNING_KEY", path: "session.signing_key"},
	{env: "BFF_SESSION_TTL", path: "session.ttl", kind: kindDuration},
	{env: "BFF_SESSION_ISSUER", path: "session.issuer"},
	{env: "BFF_CREDENTIAL_TTL", path: "credentials.ttl", kind: kindDuration},
	{env: "BFF_ENCRYPTION_KEY", path: "credentials.encryption_key"},
	{env: "BFF_ENCRYPTION_KEY_VERSION", path: "credentials.encryption_key_version", kind: kindInt},
	{env: "BFF_RETIRED_KEYS", path: "credentials.retired_keys", kind: kindList},
	{env: "BFF_CREDENTIAL_CACHE_TTL", path: "credentials.cache_ttl", kind: kindDuration},
	{env: "BFF_EXPIRING_SOON_WINDOW", path: "credentials.expiring_soon_window", kind: kindDuration},
	{env: "BFF_HTTP_ADDR", path: "http.addr"},
	{env: "BFF_ADMIN_TOKEN", path: "http.admin_token"},
	{env: "BFF_SHUTDOWN_TIMEOUT", path: "http.shutdown_timeout", kind: kindDuration},
	{env: "BFF_DATABASE_DRIVER", path: "database.driver"},
	{env: "BFF_DATABASE_DSN", path: "database.dsn"},
	{env: "BFF_DATABASE_DEBUG", path: "database.debug", kind: kindBool},
	{env: "BFF_REDIS_ADDR", path: "redis.addr"},
	{env: "BFF_REDIS_PASSWORD", path: "redis.password"},
	{env: "BFF_REDIS_DB", path: "redis.db", kind: kindInt},
	{env: "BFF_REDIS_KEY_PREFIX", path: "redis.key_prefix"},
}

// envLoader reads an optional dotenv file and the process environment into
// the nested raw map the config provider decodes. Process variables win over
// the file.
type envLoader struct {
	files  []string
	lookup func(key string) (string, bool)
}

func newEnvLoader(files ...string) envLoader {
	return envLoader{files: files, lookup: os.LookupEnv}
}

func (l envLoader) LoadRaw(context.Context) (map[string]any, error) {
	fileValues := map[string]string{}
	for _, file := range l.files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		values, err := godotenv.Read(file)
		if err != nil {
			return nil, fmt.Errorf("env: read %s: %w", file, err)
		}
		for key, value := range values {
			fileValues[key] = value
		}
	}

	lookup := l.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	raw := map[string]any{}
	for _, binding := range envBindings {
		value, ok := lookup(binding.env)
		if !ok {
			value, ok = fileValues[binding.env]
		}
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		parsed, err := parseEnvValue(binding, value)
		if err != nil {
			return nil, err
		}
		setPath(raw, binding.path, parsed)
	}
	return raw, nil
}

func parseEnvValue(binding envBinding, value string) (any, error) {
	switch binding.kind {
	case kindList:
		parts := strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' '
		})
		return parts, nil
	case kindDuration:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("env: %s: %w", binding.env, err)
		}
		return parsed, nil
	case kindInt:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("env: %s: %w", binding.env, err)
		}
		return parsed, nil
	case kindBool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("env: %s: %w", binding.env, err)
		}
		return parsed, nil
	default:
		return value, nil
	}
}

func setPath(raw map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := raw
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
