// Package transpile strips TypeScript type annotations from client-supplied
// source so it can run on the embedded JS sandbox.
package transpile

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
)

// wrapperName is the fixed function name used to give client code a legal
// home for top-level return statements.
const wrapperName = "__agent__"

// Transpile converts TypeScript (including bare type declarations with no
// accompanying value) to plain JavaScript. It is a pure function: no I/O,
// no access to any catalog or runtime state.
func Transpile(source string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		// ESNext lowers no syntax, so esbuild emits no runtime helpers (such
		// as __async) outside the wrapper function that ExtractBody keeps.
		Target:            api.ESNext,
		Format:            api.FormatDefault,
		Loader:            api.LoaderTS,
		MinifySyntax:      false,
		MinifyWhitespace:  false,
		MinifyIdentifiers: false,
	})

	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		loc := ""
		if msg.Location != nil {
			loc = fmt.Sprintf(" at line %d, column %d", msg.Location.Line, msg.Location.Column)
		}
		return "", fmt.Errorf("transpile error%s: %s", loc, msg.Text)
	}

	return string(result.Code), nil
}

// Wrap gives client source a legal home for top-level return statements by
// enclosing it in an async function body with a fixed name. Call this
// before Transpile; call ExtractBody on the transpiled result afterward.
func Wrap(source string) string {
	return "async function " + wrapperName + "() {\n" + source + "\n}"
}

// ExtractBody excises the body of the wrapper function introduced by Wrap
// from a transpiled script, so the sandbox can re-wrap it in its own
// immediately-invoked async expression. It locates the outermost brace pair
// following the wrapper's declaration, tracking string/template literals so
// braces inside them don't perturb the depth count.
func ExtractBody(script string) (string, error) {
	idx := indexWrapperDecl(script)
	if idx < 0 {
		return "", fmt.Errorf("wrapper function %q not found in transpiled output", wrapperName)
	}

	open := -1
	for i := idx; i < len(script); i++ {
		if script[i] == '{' {
			open = i
			break
		}
	}
	if open < 0 {
		return "", fmt.Errorf("wrapper function body not found")
	}

	depth := 0
	var quote byte
	for i := open; i < len(script); i++ {
		c := script[i]

		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return script[open+1 : i], nil
			}
		}
	}

	return "", fmt.Errorf("unbalanced braces in transpiled wrapper body")
}

func indexWrapperDecl(script string) int {
	needle := wrapperName + "("
	for i := 0; i+len(needle) <= len(script); i++ {
		if script[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
