// Package providers validates model-profile credentials at routing-config
// load time by constructing (but never calling) the real provider SDK
// client for "anthropic", "openai", and "bedrock" profiles. This keeps
// §6.2's worker<->child-process RPC contract intact: the routing runtime
// never itself issues a completion call.
package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// ValidateCredentials constructs a real SDK client for the named provider
// using env, returning an error if the provider is unrecognized, its
// required credentials/config cannot be resolved, or model is empty or
// obviously the wrong family for the provider. env is the profile's
// resolved environment overlay (static + envFrom).
func ValidateCredentials(ctx context.Context, provider, model string, env map[string]string) error {
	if model == "" {
		return fmt.Errorf("providers: model is required")
	}
	switch provider {
	case "", "anthropic":
		return validateAnthropic(model, env)
	case "openai":
		return validateOpenAI(model, env)
	case "bedrock":
		return validateBedrock(ctx, model, env)
	default:
		return fmt.Errorf("providers: unknown provider %q", provider)
	}
}

func lookup(env map[string]string, key string) string {
	if v, ok := env[key]; ok && v != "" {
		return v
	}
	return os.Getenv(key)
}

func validateAnthropic(model string, env map[string]string) error {
	apiKey := lookup(env, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("providers: anthropic: ANTHROPIC_API_KEY is required")
	}
	if !strings.HasPrefix(model, "claude-") {
		return fmt.Errorf("providers: anthropic: model %q does not look like a claude- model id", model)
	}
	client := anthropicsdk.NewClient(anthropicoption.WithAPIKey(apiKey))
	_ = client.Messages // constructed: credentials/options resolved, Messages service is wired
	return nil
}

func validateOpenAI(model string, env map[string]string) error {
	apiKey := lookup(env, "OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("providers: openai: OPENAI_API_KEY is required")
	}
	if strings.HasPrefix(model, "claude-") {
		return fmt.Errorf("providers: openai: model %q looks like an Anthropic model id", model)
	}
	_ = openaisdk.NewClient(openaioption.WithAPIKey(apiKey))
	return nil
}

func validateBedrock(ctx context.Context, model string, env map[string]string) error {
	region := lookup(env, "AWS_REGION")
	if region == "" {
		return fmt.Errorf("providers: bedrock: AWS_REGION is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return fmt.Errorf("providers: bedrock: resolve AWS config: %w", err)
	}
	if cfg.Region != region {
		return fmt.Errorf("providers: bedrock: resolved region %q does not match configured region %q", cfg.Region, region)
	}
	_ = bedrockruntime.NewFromConfig(cfg)
	return nil
}
