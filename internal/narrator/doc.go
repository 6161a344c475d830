// Package narrator synthesizes narration audio for translated papers and
// stores one mp3 per paper id under the configured audio directory.
package narrator
