/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package security is Argus's adversary-aware LLM boundary: a
// sanitizer for untrusted input, a threat classifier combining static
// pattern matching with a canary-guarded LLM call, a trust resolver
// mapping forge roles to moderation thresholds, and an output
// validator that is the sole guard on outbound file writes.
package security

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Severity distinguishes a hard failure from an advisory finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding against a single file.
type Issue struct {
	Path     string
	Severity Severity
	Rule     string
	Detail   string
}

// ValidationResult is the validator's verdict over one or more files.
// Valid is true iff no issue has severity error.
type ValidationResult struct {
	Valid  bool
	Issues []Issue
}

// File is one candidate write the validator inspects.
type File struct {
	Path    string
	Content string
}

const (
	maxTotalBytes = 50_000
	maxFileCount  = 30
)

// forbiddenPathPatterns are glob-style patterns (matched with
// path.Match against the file path, plus a "**" directory-recursive
// variant checked with strings.HasPrefix/Contains) covering CI
// configuration, container descriptors, credential files, and
// lockfiles Argus must never write to regardless of what the coder
// proposes.
var forbiddenPathPatterns = []string{
	".github/workflows/**",
	".gitlab-ci.yml",
	".gitlab/ci/**",
	"Jenkinsfile",
	".circleci/**",
	".travis.yml",
	"azure-pipelines.yml",
	"Dockerfile",
	"docker-compose.yml",
	".env*",
	".npmrc",
	".yarnrc*",
	".pypirc",
	".ssh/**",
	".gnupg/**",
	"package-lock.json",
	"yarn.lock",
	"Gemfile.lock",
}

// secretPatterns match embedded credentials that must never reach a
// forge write, named for the audit entry's detail field.
var secretPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"generic_credential_assignment", regexp.MustCompile(`(?i)(api_key|token|password)\s*[:=]\s*['"][^'"\s]{8,}['"]`)},
	{"github_token", regexp.MustCompile(`\bgh[pous][a-zA-Z0-9_]{30,}\b`)},
	{"gitlab_token", regexp.MustCompile(`\bglpat-[a-zA-Z0-9_-]{10,}\b`)},
	{"openai_key", regexp.MustCompile(`\bsk-[a-zA-Z0-9]{20,}\b`)},
	{"aws_access_key_id", regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`)},
	{"pem_header", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"slack_token", regexp.MustCompile(`\bxox[bpas]-[a-zA-Z0-9-]+\b`)},
}

// dangerousPatterns flag constructs worth a human's attention without
// blocking the write outright.
var dangerousPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"eval_call", regexp.MustCompile(`\beval\s*\(`)},
	{"exec_call", regexp.MustCompile(`\bexec\s*\(`)},
	{"spawn_call", regexp.MustCompile(`\bspawn\s*\(`)},
	{"subprocess_call", regexp.MustCompile(`\b(subprocess|os\.system|os\.popen)\b`)},
	{"child_process_import", regexp.MustCompile(`require\(['"]child_process['"]\)|from\s+['"]child_process['"]`)},
}

// Validate inspects a batch of candidate writes as a pure function:
// it returns a verdict without touching the forge. It is the sole
// guard an orchestrator must consult before any write leaves the
// coder.
func Validate(files []File) ValidationResult {
	var issues []Issue

	totalBytes := 0
	for _, f := range files {
		totalBytes += len(f.Content)

		if rule, ok := matchForbiddenPath(f.Path); ok {
			issues = append(issues, Issue{
				Path: f.Path, Severity: SeverityError, Rule: "forbidden_path",
				Detail: fmt.Sprintf("path matches forbidden pattern %q", rule),
			})
		}

		for _, p := range secretPatterns {
			if p.re.MatchString(f.Content) {
				issues = append(issues, Issue{
					Path: f.Path, Severity: SeverityError, Rule: "embedded_secret",
					Detail: fmt.Sprintf("content matches %s pattern", p.name),
				})
			}
		}

		for _, p := range dangerousPatterns {
			if p.re.MatchString(f.Content) {
				issues = append(issues, Issue{
					Path: f.Path, Severity: SeverityWarning, Rule: "dangerous_pattern",
					Detail: fmt.Sprintf("content matches %s pattern", p.name),
				})
			}
		}
	}

	if totalBytes > maxTotalBytes {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Rule: "size_threshold",
			Detail: fmt.Sprintf("total bytes %d exceeds threshold %d", totalBytes, maxTotalBytes),
		})
	}
	if len(files) > maxFileCount {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Rule: "size_threshold",
			Detail: fmt.Sprintf("file count %d exceeds threshold %d", len(files), maxFileCount),
		})
	}

	valid := true
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			valid = false
			break
		}
	}

	return ValidationResult{Valid: valid, Issues: issues}
}

func matchForbiddenPath(p string) (string, bool) {
	cleaned := path.Clean(p)
	for _, pattern := range forbiddenPathPatterns {
		if strings.HasSuffix(pattern, "/**") {
			dir := strings.TrimSuffix(pattern, "/**")
			if cleaned == dir || strings.HasPrefix(cleaned, dir+"/") {
				return pattern, true
			}
			continue
		}
		if ok, _ := path.Match(pattern, cleaned); ok {
			return pattern, true
		}
		if ok, _ := path.Match(pattern, path.Base(cleaned)); ok {
			return pattern, true
		}
	}
	return "", false
}
