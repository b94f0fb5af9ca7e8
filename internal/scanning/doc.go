// Package scanning drives nmap against a target and turns its XML output into
// service records.
//
// The pipeline has four stages:
//
//   - ResolvePorts merges the configured port specification with an optional
//     override. The override replaces the configuration entirely.
//   - Invoker builds the nmap command line through Command, runs it on a
//     workers.Executor with a deadline, and leaves the XML in a capture file.
//   - ParseFile decodes the capture into a RawScanResult, keeping every port
//     state.
//   - Reconcile keeps open ports and expands web services into one record per
//     application root.
//
// Scanner wires the stages together:
//
//	scanner, err := scanning.NewScanner(scanning.Config{
//		Ports:     "80,8080,15000-16000",
//		RootPaths: []string{"/", "/admin"},
//		Invoker:   scanning.InvokerConfig{Timeout: 5 * time.Minute},
//	}, scanning.Options{})
//	if err != nil {
//		return err
//	}
//	report, err := scanner.Scan(ctx, scanning.MustParseTarget("127.0.0.1"))
//
// Errors carry codes from the internal errors package: CONFIGURATION for bad
// port specifications, EXECUTION and TIMEOUT from the invoker and PARSE for
// unreadable output.
package scanning
