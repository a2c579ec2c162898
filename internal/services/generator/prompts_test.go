package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
)

func TestBuildPrompts_KnownCommand(t *testing.T) {
	system, user := buildPrompts(&interfaces.GenerationRequest{
		AgentType: models.AgentTypeSEOWriter,
		Command:   "research",
		Parameters: map[string]interface{}{
			"topic":           "email deliverability",
			"target_audience": "startup founders",
		},
	})

	assert.Contains(t, system, "SEO content writer")
	assert.Contains(t, user, "email deliverability")
	assert.Contains(t, user, "startup founders")
	assert.Contains(t, user, "content outline")
}

func TestBuildPrompts_DefaultsForMissingParams(t *testing.T) {
	_, user := buildPrompts(&interfaces.GenerationRequest{
		AgentType:  models.AgentTypeEmailMarketer,
		Command:    "create",
		Parameters: map[string]interface{}{"brief": "launch announcement"},
	})

	assert.Contains(t, user, "launch announcement")
	assert.Contains(t, user, "Tone: friendly")
}

func TestBuildPrompts_UnknownCommandFallsBack(t *testing.T) {
	system, user := buildPrompts(&interfaces.GenerationRequest{
		AgentType: models.AgentTypeAnalyst,
		Command:   "summarize",
		Parameters: map[string]interface{}{
			"content": "quarterly numbers",
			"format":  "bullets",
		},
	})

	assert.Contains(t, system, "data analyst")
	assert.Contains(t, user, `"summarize"`)
	// Fallback enumerates parameters deterministically.
	contentIdx := strings.Index(user, "content:")
	formatIdx := strings.Index(user, "format:")
	assert.True(t, contentIdx >= 0 && formatIdx >= 0 && contentIdx < formatIdx,
		"expected sorted parameter listing, got:\n%s", user)
}

func TestStringParam(t *testing.T) {
	params := map[string]interface{}{
		"set":     "value",
		"blank":   "  ",
		"numeric": 42,
	}

	assert.Equal(t, "value", stringParam(params, "set", "fallback"))
	assert.Equal(t, "fallback", stringParam(params, "blank", "fallback"))
	assert.Equal(t, "fallback", stringParam(params, "missing", "fallback"))
	assert.Equal(t, "42", stringParam(params, "numeric", "fallback"))
	assert.Equal(t, "fallback", stringParam(nil, "set", "fallback"))
}
