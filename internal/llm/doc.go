// Package llm provides the AI transaction classifier. It supports
// OpenAI-compatible chat completion endpoints and Anthropic, with per-call
// timeouts, capped retries, rate limiting and response caching.
package llm
