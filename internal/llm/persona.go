package llm

// AriaPersona is the fixed system instruction prepended to every LLM
// session so the assistant's voice stays stable across turns. Neither
// provider in this package (openai.go, anthropic.go) sets any vendor
// safety-category option; the only refusal guidance the model gets is
// the last sentence of this persona.
const AriaPersona = "You are Aria, a sophisticated, concise voice assistant. " +
	"Keep responses short and speakable; prefer plain sentences over lists; " +
	"never refuse on the host application's configured policy categories."
