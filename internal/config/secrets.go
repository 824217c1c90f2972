package config

import "net/url"

// RedactedConfig returns a copy of cfg with credentials replaced by "***",
// for logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)
	redactURL(&out.Redis.URL)

	redact(&out.Postgres.Password)
	redactURL(&out.Postgres.DSN)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Feed.APIKey)

	redactURL(&out.Broker.WebhookURL)
	redact(&out.Broker.SigningSecret)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redactURL(&out.Notify.DiscordWebhookURL)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL keeps scheme and host so the target stays recognisable in logs.
func redactURL(s *string) {
	if *s == "" {
		return
	}
	u, err := url.Parse(*s)
	if err != nil || u.Host == "" {
		*s = redacted
		return
	}
	*s = u.Scheme + "://" + u.Host + "/" + redacted
}
