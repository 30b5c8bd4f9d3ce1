// Package llm provides language model interfaces for email classification
// and subscription extraction. It supports multiple LLM providers including
// OpenAI and Anthropic, with prompt sanitization, response caching, and all
// remote calls routed through the resilience executor.
package llm
