package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceContentsValidateRejectsBoth(t *testing.T) {
	rc := ResourceContents{URI: "file:///a", Text: "hi", Blob: "aGk="}
	assert.Error(t, rc.Validate())
}

func TestResourceContentsValidateRejectsNeither(t *testing.T) {
	rc := ResourceContents{URI: "file:///a"}
	assert.Error(t, rc.Validate())
}

func TestResourceContentsValidateAcceptsExactlyOne(t *testing.T) {
	assert.NoError(t, ResourceContents{URI: "file:///a", Text: "hi"}.Validate())
	assert.NoError(t, ResourceContents{URI: "file:///a", Blob: "aGk="}.Validate())
}

func TestDefaultToolAnnotations(t *testing.T) {
	a := DefaultToolAnnotations()
	assert.False(t, a.ReadOnly)
	assert.True(t, a.Destructive)
	assert.False(t, a.Idempotent)
	assert.True(t, a.OpenWorld)
}

func TestErrorToolResultSetsIsError(t *testing.T) {
	result := ErrorToolResult("division by zero")
	assert.True(t, result.IsError)
	assert.Len(t, result.Content, 1)
	assert.Equal(t, ContentText, result.Content[0].Type)
	assert.Equal(t, "division by zero", result.Content[0].Text)
}

func TestNegotiateProtocolVersion(t *testing.T) {
	assert.Equal(t, ProtocolVersionLatest, NegotiateProtocolVersion(ProtocolVersionLatest))
	assert.Equal(t, ProtocolVersionDefault, NegotiateProtocolVersion(ProtocolVersionDefault))
	assert.Equal(t, ProtocolVersionDefault, NegotiateProtocolVersion("1999-01-01"))
}
