// Package completion wraps the Gemini generateContent API behind a single
// Complete call that always yields something speakable.
package completion
