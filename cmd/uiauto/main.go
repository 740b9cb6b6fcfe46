// uiauto runs stored browser UI test cases and suites and renders Allure
// reports for them.
//
// Usage:
//
//	uiauto seed fixtures.yaml
//	uiauto run case 3 [--browser chromium] [--headless=false] [-o json]
//	uiauto run suite 1 [--report-name nightly]
//	uiauto serve [--queue memory|redis] [--metrics-addr :9090]
//	uiauto worker [--concurrency 2]
//	uiauto reports list | reports delete <id>
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
