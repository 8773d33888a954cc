// Package llm provides the language model backends used for transaction
// classification. It supports OpenAI and Anthropic providers speaking a
// shared batch JSON protocol, with rate limiting and retry logic.
package llm
