// Package langchain adapts langchaingo models to the application's
// generation and embedding boundaries, covering the OpenAI, Anthropic and
// Ollama backends behind one Provider type.
package langchain
