// Command creditsctl inspects the local installation identity and serves the
// credits HTTP API.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
