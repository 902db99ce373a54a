/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package security_test

import (
	"testing"

	"github.com/argus-bot/argus/security"
)

func TestValidateRejectsForbiddenPath(t *testing.T) {
	result := security.Validate([]security.File{
		{Path: ".github/workflows/ci.yml", Content: "name: ci"},
	})
	if result.Valid {
		t.Fatal("Valid = true, want false for a workflow-directory write")
	}
	if len(result.Issues) != 1 || result.Issues[0].Rule != "forbidden_path" {
		t.Errorf("Issues = %+v, want a single forbidden_path issue", result.Issues)
	}
}

func TestValidateRejectsEmbeddedSecret(t *testing.T) {
	result := security.Validate([]security.File{
		{Path: "main.go", Content: `api_key: "sk-abcdefghijklmnopqrstuvwxyz012345"`},
	})
	if result.Valid {
		t.Fatal("Valid = true, want false for content with an embedded secret")
	}
	foundSecret := false
	for _, issue := range result.Issues {
		if issue.Rule == "embedded_secret" {
			foundSecret = true
		}
	}
	if !foundSecret {
		t.Errorf("Issues = %+v, want an embedded_secret issue", result.Issues)
	}
}

func TestValidateWarnsOnDangerousPattern(t *testing.T) {
	result := security.Validate([]security.File{
		{Path: "script.py", Content: "eval(user_input)"},
	})
	if !result.Valid {
		t.Error("Valid = false, want true: a dangerous-pattern match is a warning, not an error")
	}
	if len(result.Issues) != 1 || result.Issues[0].Severity != security.SeverityWarning {
		t.Errorf("Issues = %+v, want a single warning-severity issue", result.Issues)
	}
}

func TestValidateAcceptsOrdinaryFiles(t *testing.T) {
	result := security.Validate([]security.File{
		{Path: "internal/widget/widget.go", Content: "package widget\n\nfunc New() *Widget { return &Widget{} }\n"},
	})
	if !result.Valid {
		t.Errorf("Valid = false, want true: Issues = %+v", result.Issues)
	}
	if len(result.Issues) != 0 {
		t.Errorf("Issues = %+v, want none", result.Issues)
	}
}

func TestValidateWarnsOnFileCountThreshold(t *testing.T) {
	files := make([]security.File, 31)
	for i := range files {
		files[i] = security.File{Path: "pkg/file.go", Content: "package pkg\n"}
	}
	result := security.Validate(files)
	found := false
	for _, issue := range result.Issues {
		if issue.Rule == "size_threshold" {
			found = true
		}
	}
	if !found {
		t.Errorf("Issues = %+v, want a size_threshold issue for 31 files", result.Issues)
	}
}
