// Command recite runs the recitation preprocessing pipeline from the shell.
//
// Usage:
//
//	recite [--config FILE] [--log-level LEVEL] <command> [args]
//
// Commands:
//
//	process      - ingest a recording, clean it up and store the artifact
//	features     - print the feature vector of a recording
//	convert      - re-encode a recording into another container
//	cleanup      - delete stored artifacts or everything a session wrote
//	sweep        - delete artifacts of sessions that were never released
//	probe        - show ffprobe metadata of a recording
//	spectrogram  - render a recording as a PNG spectrogram
package main

import (
	"fmt"
	"os"

	"github.com/quranicquest/recitation/cmd/recite/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
