package main

import (
	"flag"
	"fmt"
	"os"

	"lienharvest/internal/config"
)

// checkconfig validates one or more site config files and prints every issue
// found. Exit status is 1 when any file fails to load or carries an
// error-severity issue, which makes this suitable for CI gating of the
// config repository.
func main() {
	quiet := flag.Bool("q", false, "suppress warnings; report errors only")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: checkconfig [-q] <site-config.json> [...]")
		os.Exit(2)
	}

	failed := false
	for _, path := range flag.Args() {
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}

		issues := config.Validate(cfg)
		for _, iss := range issues {
			if *quiet && iss.Severity != config.SeverityError {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s: %s: %s: %s\n", path, iss.Severity, iss.Path, iss.Message)
		}
		if config.HasErrors(issues) {
			failed = true
			continue
		}
		fmt.Printf("%s: ok (%s, %d field mappings)\n", path, cfg.ScraperKind, len(cfg.FieldMappings))
	}

	if failed {
		os.Exit(1)
	}
}
