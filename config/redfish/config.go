// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BMCDetail contains the connection details for a BMC
type BMCDetail struct {
	Endpoint string `yaml:"endpoint"` // BMC endpoint URL
	Username string `yaml:"username"` // BMC username
	Password string `yaml:"password"` // BMC password
	Insecure bool   `yaml:"insecure"` // Skip TLS verification
}

// Load loads and parses a BMC configuration file
func Load(configPath string) (*BMCDetail, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read BMC config file %s: %w", configPath, err)
	}

	var bmc BMCDetail
	if err := yaml.Unmarshal(data, &bmc); err != nil {
		return nil, fmt.Errorf("failed to parse BMC config file %s: %w", configPath, err)
	}

	if err := bmc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid BMC configuration: %w", err)
	}

	return &bmc, nil
}

// Validate validates a BMC detail configuration
func (b *BMCDetail) Validate() error {
	if strings.TrimSpace(b.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}

	// if one credential is provided, both must be
	hasUser := strings.TrimSpace(b.Username) != ""
	hasPass := strings.TrimSpace(b.Password) != ""
	if hasUser != hasPass {
		return fmt.Errorf("username and password must be provided together")
	}

	return nil
}
