// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stmcginnis/gofish"
	"github.com/stmcginnis/gofish/redfish"

	redfishcfg "github.com/LiquidRemix/android-hardware-interfaces/config/redfish"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
)

// PowerReader reads instantaneous power data from a Redfish BMC via
// PowerSubsystem with fallback to the deprecated Power API
type PowerReader struct {
	logger *slog.Logger

	cfg    gofish.ClientConfig
	client *gofish.APIClient

	endpoint string
	strategy PowerAPIStrategy
}

// NewPowerReader creates a new PowerReader for the given BMC
func NewPowerReader(bmc *redfishcfg.BMCDetail, httpTimeout time.Duration, logger *slog.Logger) *PowerReader {
	httpClient := &http.Client{
		Timeout: httpTimeout,
	}

	if bmc.Insecure {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	cfg := gofish.ClientConfig{
		Endpoint:   bmc.Endpoint,
		Username:   bmc.Username,
		Password:   bmc.Password,
		HTTPClient: httpClient,
	}

	return &PowerReader{
		logger:   logger,
		cfg:      cfg,
		endpoint: bmc.Endpoint,
	}
}

// Init connects to the BMC and determines the power reading strategy.
//
// NOTE: gofish stores the connect context and uses it for all subsequent
// HTTP requests, so no timeout context is used here; per-request timeouts
// come from the HTTP client.
func (pr *PowerReader) Init() error {
	client, err := gofish.Connect(pr.cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to BMC at %s: %w", pr.cfg.Endpoint, err)
	}

	needsCleanup := true
	defer func() {
		if !needsCleanup {
			return
		}
		pr.client.Logout()
		pr.client = nil
	}()

	pr.client = client

	service := pr.client.Service
	if service == nil {
		return fmt.Errorf("BMC service is not available")
	}

	chassis, err := service.Chassis()
	if err != nil {
		return fmt.Errorf("failed to get chassis collection: %w", err)
	}
	if len(chassis) == 0 {
		return fmt.Errorf("no chassis found in BMC")
	}

	strategy, err := pr.determineStrategy(chassis)
	if err != nil {
		return fmt.Errorf("failed to determine power reading strategy: %w", err)
	}

	pr.strategy = strategy
	pr.logger.Info("Power reading strategy determined",
		"endpoint", pr.endpoint, "strategy", string(strategy))

	needsCleanup = false
	return nil
}

// Close logs out from the BMC
func (pr *PowerReader) Close() {
	if pr.client == nil {
		return
	}
	pr.client.Logout()
	pr.client = nil
}

// determineStrategy tests chassis until it finds one with a supported API that has data
func (pr *PowerReader) determineStrategy(chassis []*redfish.Chassis) (PowerAPIStrategy, error) {
	for i, c := range chassis {
		if c == nil {
			pr.logger.Warn("Skipping nil chassis during strategy determination", "index", i)
			continue
		}

		if _, err := pr.readPowerSubsystem(c); err == nil {
			return PowerSubsystemStrategy, nil
		} else if _, err := pr.readPower(c); err == nil {
			return PowerStrategy, nil
		}
	}

	return UnknownStrategy, fmt.Errorf(
		"neither PowerSubsystem nor Power API is available on any chassis (tested %d chassis)",
		len(chassis))
}

// ReadAll reads the instantaneous power of every supply line across all
// chassis using the pre-determined strategy.
func (pr *PowerReader) ReadAll() ([]Reading, error) {
	if pr.client == nil {
		return nil, fmt.Errorf("BMC client is not initialized")
	}
	if pr.strategy == UnknownStrategy {
		return nil, fmt.Errorf("power reading strategy not determined; call Init() first")
	}

	chassis, err := pr.client.Service.Chassis()
	if err != nil {
		return nil, fmt.Errorf("failed to get chassis collection: %w", err)
	}
	if len(chassis) == 0 {
		return nil, fmt.Errorf("no chassis found in BMC")
	}

	var readings []Reading
	for i, ch := range chassis {
		if ch == nil {
			pr.logger.Warn("Skipping nil chassis", "index", i)
			continue
		}

		var chassisReadings []Reading
		switch pr.strategy {
		case PowerSubsystemStrategy:
			chassisReadings, err = pr.readPowerSubsystem(ch)
		case PowerStrategy:
			chassisReadings, err = pr.readPower(ch)
		default:
			return nil, fmt.Errorf("unknown power reading strategy: %s", pr.strategy)
		}

		if err != nil {
			pr.logger.Warn("Failed to read power data from chassis",
				"chassis_id", ch.ID, "strategy", pr.strategy, "error", err)
			continue
		}
		readings = append(readings, chassisReadings...)
	}

	if len(readings) == 0 {
		return nil, fmt.Errorf("no chassis with valid power readings found")
	}

	return readings, nil
}

// readPowerSubsystem reads power data via the PowerSubsystem API (modern approach)
func (pr *PowerReader) readPowerSubsystem(chassis *redfish.Chassis) ([]Reading, error) {
	powerSubsystem, err := chassis.PowerSubsystem()
	if err != nil {
		return nil, fmt.Errorf("failed to get power subsystem: %w", err)
	}
	if powerSubsystem == nil {
		return nil, fmt.Errorf("no power subsystem available")
	}

	powerSupplies, err := powerSubsystem.PowerSupplies()
	if err != nil {
		return nil, fmt.Errorf("failed to get power supplies: %w", err)
	}
	if len(powerSupplies) == 0 {
		return nil, fmt.Errorf("no power supplies found")
	}

	var readings []Reading
	for j, powerSupply := range powerSupplies {
		if powerSupply.PowerOutputWatts == 0 {
			pr.logger.Debug("Power output reading is zero for power supply",
				"chassis_id", chassis.ID, "power_supply_index", j, "member_id", powerSupply.ID)
			continue
		}

		readings = append(readings, Reading{
			ChassisID:  chassis.ID,
			SourceID:   powerSupply.ID,
			SourceName: powerSupply.Name,
			SourceType: PowerSupplySource,
			Power:      Power(powerSupply.PowerOutputWatts) * device.Watt,
		})
	}

	if len(readings) == 0 {
		return nil, fmt.Errorf("no valid power readings found from power supplies")
	}
	return readings, nil
}

// readPower reads power data via the deprecated Power API (fallback)
func (pr *PowerReader) readPower(chassis *redfish.Chassis) ([]Reading, error) {
	power, err := chassis.Power()
	if err != nil {
		return nil, fmt.Errorf("failed to get power information: %w", err)
	}
	if power == nil || len(power.PowerControl) == 0 {
		return nil, fmt.Errorf("no power control information available")
	}

	var readings []Reading
	for j, powerControl := range power.PowerControl {
		if powerControl.PowerConsumedWatts == 0 {
			pr.logger.Debug("Power consumption reading is zero for PowerControl entry",
				"chassis_id", chassis.ID, "power_control_index", j, "member_id", powerControl.MemberID)
			continue
		}

		readings = append(readings, Reading{
			ChassisID:  chassis.ID,
			SourceID:   powerControl.MemberID,
			SourceName: powerControl.Name,
			SourceType: PowerControlSource,
			Power:      Power(powerControl.PowerConsumedWatts) * device.Watt,
		})
	}

	if len(readings) == 0 {
		return nil, fmt.Errorf("no valid power readings found from power controls")
	}
	return readings, nil
}
