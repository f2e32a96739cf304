// Package gemini adapts Google's Gemini API to the application's generation
// and embedding boundaries.
//
// Provider implements generation.Provider on top of GenerateContent and
// Embedder turns sample text into vectors with EmbedContent. API errors are
// classified here: rate limits, server errors and timeouts are transient,
// safety blocks and malformed responses are permanent.
package gemini
