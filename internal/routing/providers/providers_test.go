package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateCredentialsUnknownProvider(t *testing.T) {
	err := ValidateCredentials(context.Background(), "carrier-pigeon", "some-model", nil)
	require.ErrorContains(t, err, "unknown provider")
}

func TestValidateCredentialsRequiresModel(t *testing.T) {
	err := ValidateCredentials(context.Background(), "anthropic", "", map[string]string{"ANTHROPIC_API_KEY": "sk-test"})
	require.ErrorContains(t, err, "model is required")
}

func TestValidateAnthropicRequiresAPIKey(t *testing.T) {
	err := ValidateCredentials(context.Background(), "anthropic", "claude-sonnet-4-5", nil)
	require.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}

func TestValidateAnthropicRejectsWrongModelFamily(t *testing.T) {
	err := ValidateCredentials(context.Background(), "anthropic", "gpt-4o", map[string]string{"ANTHROPIC_API_KEY": "sk-test"})
	require.ErrorContains(t, err, "does not look like a claude- model id")
}

func TestValidateAnthropicSucceedsWithEnvKey(t *testing.T) {
	err := ValidateCredentials(context.Background(), "anthropic", "claude-sonnet-4-5", map[string]string{"ANTHROPIC_API_KEY": "sk-test"})
	require.NoError(t, err)
}

func TestValidateOpenAIRequiresAPIKey(t *testing.T) {
	err := ValidateCredentials(context.Background(), "openai", "gpt-4o", nil)
	require.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestValidateOpenAIRejectsWrongModelFamily(t *testing.T) {
	err := ValidateCredentials(context.Background(), "openai", "claude-sonnet-4-5", map[string]string{"OPENAI_API_KEY": "sk-test"})
	require.ErrorContains(t, err, "looks like an Anthropic model id")
}

func TestValidateOpenAISucceedsWithEnvKey(t *testing.T) {
	err := ValidateCredentials(context.Background(), "openai", "gpt-4o", map[string]string{"OPENAI_API_KEY": "sk-test"})
	require.NoError(t, err)
}

func TestValidateBedrockRequiresRegion(t *testing.T) {
	err := ValidateCredentials(context.Background(), "bedrock", "anthropic.claude-sonnet-4-5", nil)
	require.ErrorContains(t, err, "AWS_REGION")
}

func TestLookupPrefersProfileEnvOverHostEnv(t *testing.T) {
	t.Setenv("AGENTCTL_TEST_LOOKUP", "host-value")
	env := map[string]string{"AGENTCTL_TEST_LOOKUP": "profile-value"}
	require.Equal(t, "profile-value", lookup(env, "AGENTCTL_TEST_LOOKUP"))
}

func TestLookupFallsBackToHostEnv(t *testing.T) {
	t.Setenv("AGENTCTL_TEST_LOOKUP2", "host-value")
	require.Equal(t, "host-value", lookup(nil, "AGENTCTL_TEST_LOOKUP2"))
}
