// Package main is the entry point for the themis-sync binary, a one-shot
// utility that fetches policies from a Ranger-compatible authority and writes
// them to a local policy file.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/makr-code/themis-policy/pkg/logging"
	"github.com/makr-code/themis-policy/pkg/policy"
	"github.com/makr-code/themis-policy/pkg/ranger"
)

const defaultPoliciesPath = "/service/public/v2/api/policy"

func main() {
	baseURL := flag.String("url", "", "Authority base URL, e.g. https://ranger.example.com:6182")
	policiesPath := flag.String("path", defaultPoliciesPath, "Policy endpoint path appended to the base URL")
	service := flag.String("service", "", "Ranger service name whose policies are fetched")
	token := flag.String("token", "", "Bearer token for the authority (optional)")
	out := flag.String("out", "policies.json", "Output policy file")
	timeout := flag.Duration("timeout", 30*time.Second, "Fetch timeout")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := logging.NewLogger(logging.Config{Level: *logLevel})
	slog.SetDefault(logger)

	if *baseURL == "" {
		logger.Error("Missing required flag", "flag", "-url")
		flag.Usage()
		os.Exit(2)
	}

	client, err := ranger.NewClient(ranger.Config{
		BaseURL:      *baseURL,
		PoliciesPath: *policiesPath,
		ServiceName:  *service,
		BearerToken:  *token,
		Timeout:      *timeout,
		TLS:          ranger.TLSConfig{InsecureSkipVerify: *insecure},
	})
	if err != nil {
		logger.Error("Failed to build authority client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	doc, err := client.FetchPolicies(ctx)
	if err != nil {
		logger.Error("Fetch failed", "url", *baseURL, "service", *service, "error", err)
		os.Exit(1)
	}

	policies := ranger.FromRanger(doc)
	if err := policy.SaveFile(*out, policies); err != nil {
		logger.Error("Failed to write policy file", "path", *out, "error", err)
		os.Exit(1)
	}

	logger.Info("Policies synchronized",
		"service", *service,
		"fetched", len(doc),
		"written", len(policies),
		"out", *out,
	)
}
