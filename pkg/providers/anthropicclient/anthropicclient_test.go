package anthropicclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

func TestNewDefaultsModelWhenUnset(t *testing.T) {
	c := New(Config{APIKey: "sk-ant-test"})
	assert.Equal(t, anthropic.ModelClaude3_7SonnetLatest, c.model)
}

func TestNewHonorsExplicitModel(t *testing.T) {
	c := New(Config{APIKey: "sk-ant-test", Model: "claude-opus-4-test"})
	assert.Equal(t, anthropic.Model("claude-opus-4-test"), c.model)
}

func TestName(t *testing.T) {
	c := New(Config{APIKey: "sk-ant-test"})
	assert.Equal(t, "anthropic", c.Name())
}
