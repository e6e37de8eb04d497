// Package messages holds the localized user-facing strings the gateway posts
// (acknowledgements, feedback prompts, apologies, closing and escalation
// texts) with their Portuguese defaults, optionally overridden from a TOML
// catalog file.
package messages
