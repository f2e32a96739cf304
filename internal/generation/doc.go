// Package generation provides the boundary between the task executor and
// external LLM services. Providers are interchangeable implementations of a
// single Generate contract, registered by name and selected by configuration.
// The package turns one source record into derived samples: it renders the
// prompt, calls the provider with bounded retries for transient failures and
// parses the structured response.
package generation
