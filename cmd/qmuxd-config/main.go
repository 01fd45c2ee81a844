package main

import (
	"fmt"
	"os"

	"github.com/danmuck/qmuxd/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	output := pflag.StringP("output", "o", "qmuxd.toml", "Output path for the config template.")
	validate := pflag.Bool("validate", false, "Validate an existing config file instead of writing one.")
	input := pflag.StringP("input", "i", "qmuxd.toml", "Config path for validation.")
	force := pflag.BoolP("force", "f", false, "Overwrite an existing config file.")
	pflag.Parse()

	if *validate {
		if _, err := config.Load(*input); err != nil {
			fmt.Fprintf(os.Stderr, "qmuxd-config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Validated config at %s\n", *input)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		fmt.Fprintf(os.Stderr, "qmuxd-config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote config template to %s\n", *output)
}
