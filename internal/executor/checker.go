package executor

import (
	"bytes"
	"os/exec"
	"strings"
)

// ToolRequirement represents an external binary the executor may need when
// the generator proposes commands that use it
type ToolRequirement struct {
	Name       string // Display name
	Binary     string // Executable name
	Required   bool   // Whether the tool is required
	InstallCmd string // Installation command
	Purpose    string // One-line description
}

// CheckResult represents the result of checking a single tool
type CheckResult struct {
	Tool    ToolRequirement
	Found   bool
	Path    string
	Version string
}

// DefaultTools returns the binaries an assessment session commonly reaches
// for. Only the shell is required; everything else degrades to whatever the
// generator can do without it.
func DefaultTools(shell string) []ToolRequirement {
	if shell == "" {
		shell = "/bin/sh"
	}
	return []ToolRequirement{
		{
			Name:       "shell",
			Binary:     shell,
			Required:   true,
			InstallCmd: "provided by the operating system",
			Purpose:    "Command execution",
		},
		{
			Name:       "nmap",
			Binary:     "nmap",
			Required:   false,
			InstallCmd: "apt install nmap (or brew install nmap on macOS)",
			Purpose:    "Port scanning and service fingerprinting",
		},
		{
			Name:       "gobuster",
			Binary:     "gobuster",
			Required:   false,
			InstallCmd: "go install github.com/OJ/gobuster/v3@latest",
			Purpose:    "Directory and vhost enumeration",
		},
		{
			Name:       "nikto",
			Binary:     "nikto",
			Required:   false,
			InstallCmd: "apt install nikto",
			Purpose:    "Web server scanning",
		},
		{
			Name:       "sqlmap",
			Binary:     "sqlmap",
			Required:   false,
			InstallCmd: "apt install sqlmap",
			Purpose:    "SQL injection testing",
		},
		{
			Name:       "hydra",
			Binary:     "hydra",
			Required:   false,
			InstallCmd: "apt install hydra",
			Purpose:    "Credential brute forcing",
		},
		{
			Name:       "curl",
			Binary:     "curl",
			Required:   false,
			InstallCmd: "apt install curl",
			Purpose:    "HTTP probing",
		},
	}
}

// CheckTools checks all tools in the provided list
func CheckTools(tools []ToolRequirement) []CheckResult {
	results := make([]CheckResult, len(tools))
	for i, tool := range tools {
		results[i] = CheckTool(tool)
	}
	return results
}

// CheckTool checks if a single tool is available
func CheckTool(tool ToolRequirement) CheckResult {
	result := CheckResult{
		Tool:  tool,
		Found: false,
	}

	// Try to find the binary in PATH
	path, err := exec.LookPath(tool.Binary)
	if err != nil {
		return result
	}

	result.Found = true
	result.Path = path

	// Try to get version (best effort)
	result.Version = getVersion(tool.Binary)

	return result
}

// getVersion attempts to get the version of a tool
func getVersion(binary string) string {
	// Try common version flags
	versionFlags := []string{"--version", "-version", "-v", "version"}

	for _, flag := range versionFlags {
		cmd := exec.Command(binary, flag)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err := cmd.Run()
		if err == nil && out.Len() > 0 {
			// Get first line of output
			firstLine := strings.Split(out.String(), "\n")[0]
			// Trim and limit length
			version := strings.TrimSpace(firstLine)
			if len(version) > 50 {
				version = version[:50] + "..."
			}
			return version
		}
	}

	return "unknown"
}
