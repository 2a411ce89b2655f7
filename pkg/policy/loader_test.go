package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const loaderTestRego = `package custom.policies.offboarding

# Leaver plans must disable the identity before anything else runs

import rego.v1

deny contains violation if {
	input.Plan.LifecycleEvent == "Leaver"
	input.Plan.Steps[0].Type != "IdLE.Step.DisableIdentity"
	violation := {
		"message": "Leaver plans must disable the identity before anything else runs",
		"severity": "error",
	}
}`

func TestLoadFromFile_Rego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "offboarding-order.rego")

	err := os.WriteFile(policyFile, []byte(loaderTestRego), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "offboarding-order" {
		t.Errorf("Expected name 'offboarding-order', got '%s'", policy.Name)
	}

	if policy.Rego != loaderTestRego {
		t.Error("Rego content doesn't match")
	}

	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}

	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity '%s', got '%s'", SeverityWarning, policy.Severity)
	}

	if policy.Description != "Leaver plans must disable the identity before anything else runs" {
		t.Errorf("Unexpected description: '%s'", policy.Description)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "entitlement-catalog.json")

	policy := Policy{
		Name:        "entitlement-catalog",
		Description: "Grants must come from the approved catalog",
		Rego:        loaderTestRego,
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"entitlements"},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}

	err = os.WriteFile(policyFile, data, 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, loaded.Name)
	}

	if loaded.Description != policy.Description {
		t.Errorf("Expected description '%s', got '%s'", policy.Description, loaded.Description)
	}

	if loaded.Severity != policy.Severity {
		t.Errorf("Expected severity '%s', got '%s'", policy.Severity, loaded.Severity)
	}

	if loaded.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be defaulted")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()

	policies := map[string]string{
		"joiner-baseline.rego": "package idle.custom.p1\n\nimport rego.v1\n\ndeny contains msg if { false }",
		"mover-review.rego":    "package idle.custom.p2\n\nimport rego.v1\n\ndeny contains msg if { false }",
		"leaver-order.rego":    "package idle.custom.p3\n\nimport rego.v1\n\ndeny contains msg if { false }",
	}

	for filename, content := range policies {
		path := filepath.Join(tmpDir, filename)
		err := os.WriteFile(path, []byte(content), 0644)
		if err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
	}

	// Non-policy files are ignored
	err := os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# Policies"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(loaded) != len(policies) {
		t.Errorf("Expected %d policies, got %d", len(policies), len(loaded))
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "leavers")
	err := os.Mkdir(subDir, 0755)
	if err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	err = os.WriteFile(filepath.Join(tmpDir, "top.rego"), []byte("package idle.custom.top\n\nimport rego.v1\n\ndeny contains msg if { false }"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	err = os.WriteFile(filepath.Join(subDir, "nested.rego"), []byte("package idle.custom.nested\n\nimport rego.v1\n\ndeny contains msg if { false }"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies (including subdirectory), got %d", len(loaded))
	}
}

func TestLoadFromDirectory_SkipsBrokenFiles(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "good.rego"), []byte(loaderTestRego), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	err = os.WriteFile(filepath.Join(tmpDir, "broken.json"), []byte("{not json"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Expected broken files to be skipped, got: %v", err)
	}

	if len(loaded) != 1 {
		t.Errorf("Expected 1 policy, got %d", len(loaded))
	}
}

func TestLoadFromPaths(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()

	dir1 := filepath.Join(tmpDir, "dir1")
	err := os.Mkdir(dir1, 0755)
	if err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	err = os.WriteFile(filepath.Join(dir1, "first.rego"), []byte("package idle.custom.first\n\nimport rego.v1\n\ndeny contains msg if { false }"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	file1 := filepath.Join(tmpDir, "second.rego")
	err = os.WriteFile(file1, []byte("package idle.custom.second\n\nimport rego.v1\n\ndeny contains msg if { false }"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	paths := []string{dir1, file1}
	loaded, err := loader.LoadFromPaths(context.Background(), paths)
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}

	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}
}

func TestLoadFromPaths_MissingPath(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	_, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"})
	if err == nil {
		t.Error("Expected error for missing path, got nil")
	}
}

func TestLoadBundle(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	bundleFile := filepath.Join(tmpDir, "governance.json")

	bundle := Bundle{
		Name:        "governance",
		Version:     "1.2.0",
		Description: "Core identity governance rules",
		Policies: []Policy{
			{
				Name:        "offboarding-order",
				Description: "Leavers disable first",
				Rego:        loaderTestRego,
				Severity:    SeverityError,
				Enabled:     true,
			},
			{
				Name:        "entitlement-catalog",
				Description: "Grants come from the catalog",
				Rego:        loaderTestRego,
				Severity:    SeverityWarning,
				Enabled:     true,
			},
		},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}

	err = os.WriteFile(bundleFile, data, 0644)
	if err != nil {
		t.Fatalf("Failed to write bundle file: %v", err)
	}

	loaded, err := loader.LoadBundle(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}

	if loaded.Name != bundle.Name {
		t.Errorf("Expected bundle name '%s', got '%s'", bundle.Name, loaded.Name)
	}

	if loaded.Version != bundle.Version {
		t.Errorf("Expected version '%s', got '%s'", bundle.Version, loaded.Version)
	}

	if len(loaded.Policies) != len(bundle.Policies) {
		t.Errorf("Expected %d policies, got %d", len(bundle.Policies), len(loaded.Policies))
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "single line comment",
			content: `# Grants must be catalogued
package test`,
			expected: "Grants must be catalogued",
		},
		{
			name: "multi line comments",
			content: `# Grants must be catalogued
# and reviewed quarterly
package test`,
			expected: "Grants must be catalogued and reviewed quarterly",
		},
		{
			name: "no comments",
			content: `package test

import rego.v1

deny contains msg if { false }`,
			expected: "",
		},
		{
			name: "comments with empty lines",
			content: `# First line
#
# Second line
package test`,
			expected: "First line Second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractDescription(tt.content)
			if result != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "cached.rego")
	err := os.WriteFile(policyFile, []byte(loaderTestRego), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	// Load a policy to populate the cache
	first, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	// A second load is served from the cache
	second, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if first != second {
		t.Error("Expected the cached policy on the second load")
	}

	loader.ClearCache()

	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "notes.txt")
	err := os.WriteFile(policyFile, []byte("not a policy"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = loader.loadFromFile(context.Background(), policyFile)
	if err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "invalid.json")
	err := os.WriteFile(policyFile, []byte("invalid json"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = loader.loadFromFile(context.Background(), policyFile)
	if err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	_, err := loader.loadFromPath(context.Background(), "/nonexistent/path")
	if err == nil {
		t.Error("Expected error for non-existent path")
	}
}
