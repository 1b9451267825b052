// Package autoload registers all built-in LLM providers. Import it for
// side effects:
//
//	import _ "scholar/pkg/llm/autoload"
package autoload

import (
	_ "scholar/pkg/llm/gemini"
	_ "scholar/pkg/llm/ollama"
	_ "scholar/pkg/llm/openailm"
)
