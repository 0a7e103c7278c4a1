package utils

import (
	"strings"
	"testing"

	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestResponseInspector_Inspect_LoginPage(t *testing.T) {
	html := `
    <html><head><title>
        Sign in
    </title></head><body>
        <form action="/login" method="POST">
            <input type="text" name="username">
            <input type="password" name="password">
        </form>
        <form action="/search"><input name="q"></form>
    </body></html>`

	inspector := NewResponseInspector()
	got := inspector.Inspect(&models.HTTPResponse{
		Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Body:    html,
	}, []string{"admin"})

	assert.Equal(t, "Sign in", got.Title)
	assert.Equal(t, 2, got.Forms)
	assert.Empty(t, got.Flags)
}

func TestResponseInspector_Inspect_SniffsHTMLWithoutContentType(t *testing.T) {
	inspector := NewResponseInspector()
	got := inspector.Inspect(&models.HTTPResponse{Body: "<!DOCTYPE html><title>Home</title>"}, nil)

	assert.Equal(t, "Home", got.Title)
}

func TestResponseInspector_Inspect_JSONHasNoTitle(t *testing.T) {
	inspector := NewResponseInspector()
	got := inspector.Inspect(&models.HTTPResponse{
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"title":"<title>x</title>"}`,
	}, nil)

	assert.Empty(t, got.Title)
	assert.Zero(t, got.Forms)
}

func TestResponseInspector_Inspect_Flags(t *testing.T) {
	inspector := NewResponseInspector()

	got := inspector.Inspect(&models.HTTPResponse{
		Body: "You have an error in your SQL syntax near ''' OR 1=1--'",
	}, []string{"' OR 1=1--"})
	assert.Equal(t, []string{FlagSQLError, FlagReflected}, got.Flags)

	got = inspector.Inspect(&models.HTTPResponse{
		Body: "Traceback (most recent call last):\n  File \"/app/main.py\", line 4, in <module>",
	}, nil)
	assert.Equal(t, []string{FlagErrorTrace}, got.Flags)

	assert.Empty(t, inspector.Inspect(nil, nil).Flags)
}

func TestResponseInspector_TitleIsBounded(t *testing.T) {
	inspector := NewResponseInspector()
	got := inspector.Inspect(&models.HTTPResponse{
		Headers: map[string]string{"content-type": "text/html"},
		Body:    "<title>" + strings.Repeat("x", 1000) + "</title>",
	}, nil)

	assert.Len(t, got.Title, maxTitleLen)
}

func TestReflected_IgnoresShortPayloads(t *testing.T) {
	assert.False(t, Reflected("id=1", []string{"1"}))
	assert.True(t, Reflected("<script>alert(1)</script>", []string{"<script>alert(1)</script>"}))
}

func TestContainsSQLError(t *testing.T) {
	assert.True(t, ContainsSQLError("ORA-00933: SQL command not properly ended"))
	assert.True(t, ContainsSQLError("ERROR: syntax error at or near \"'\""))
	assert.False(t, ContainsSQLError("Welcome back, admin"))
}
