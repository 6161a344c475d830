// Package tts wraps the speech synthesis endpoint that turns paper scripts
// into narration audio.
package tts
