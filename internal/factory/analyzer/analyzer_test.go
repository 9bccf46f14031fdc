package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeCleanModuleIsValid(t *testing.T) {
	code := `module.exports = {
	handleConnection: function(socket) {
		let gameState = {};
		socket.emit('hi');
	}
};`
	r := Analyze(code)
	assert.True(t, r.IsValid)
	assert.Empty(t, r.SyntaxErrors)
}

func TestAnalyzeMissingExportIsSyntaxError(t *testing.T) {
	r := Analyze("function f() { return 1; }")
	assert.False(t, r.IsValid)
	assert.Contains(t, strings.Join(r.SyntaxErrors, " "), "module export")
}

func TestAnalyzeUnmatchedBracket(t *testing.T) {
	r := Analyze("module.exports = {\nfunction f( {\n")
	assert.False(t, r.IsValid)
	assert.NotEmpty(t, r.SyntaxErrors)
}

func TestAnalyzeEvalIsHighSeverity(t *testing.T) {
	r := Analyze("module.exports = {};\neval(\"x\")")
	assert.False(t, r.IsValid)
	found := false
	for _, i := range r.SecurityIssues {
		if i.Severity == SeverityHigh && strings.Contains(i.Message, "eval") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnalyzeFunctionConstructorIsCaseSensitive(t *testing.T) {
	r := Analyze("module.exports = {};\nlet x = Function('return 1')();")
	foundHigh := false
	for _, i := range r.SecurityIssues {
		if i.Severity == SeverityHigh {
			foundHigh = true
		}
	}
	assert.True(t, foundHigh)

	r2 := Analyze("module.exports = {};\nfunction notAFunctionConstructor() {}")
	for _, i := range r2.SecurityIssues {
		assert.NotEqual(t, "Function constructor detected", i.Message)
	}

	// Ordinary identifiers ending in Function must not match either.
	r3 := Analyze("module.exports = {};\nspawnFunction(1);\nhandleFunction(2);")
	assert.True(t, r3.IsValid)
	for _, i := range r3.SecurityIssues {
		assert.NotEqual(t, "Function constructor detected", i.Message)
	}
}

func TestAnalyzeLowSeverityDoesNotInvalidate(t *testing.T) {
	r := Analyze("module.exports = {};\nconsole.log(process.env.FOO)")
	assert.True(t, r.IsValid)
	assert.NotEmpty(t, r.SecurityIssues)
}

func TestAnalyzeStructuralWarnings(t *testing.T) {
	r := Analyze("module.exports = { foo: 1 };")
	assert.NotEmpty(t, r.Warnings)
}

func TestAnalyzeNeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		Analyze("")
	})
}

func TestAnalyzeDeterministic(t *testing.T) {
	code := "module.exports = {};\neval('x')\nvar y = 1;"
	r1 := Analyze(code)
	r2 := Analyze(code)
	assert.Equal(t, r1, r2)
}
