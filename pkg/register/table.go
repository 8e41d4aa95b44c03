// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package register

// Telemetry fields sent by BMV battery monitors and MPPT chargers.
var telemetryFields = []Register{
	{Name: "V", Description: "Main battery voltage", Unit: "mV", Parse: ParseInt},
	{Name: "V2", Description: "Second battery voltage", Unit: "mV", Parse: ParseInt},
	{Name: "VS", Description: "Auxiliary voltage", Unit: "mV", Parse: ParseInt},
	{Name: "VM", Description: "Mid-point voltage", Unit: "mV", Parse: ParseInt},
	{Name: "DM", Description: "Mid-point deviation", Unit: "‰", Parse: ParseInt},
	{Name: "VPV", Description: "Panel voltage", Unit: "mV", Parse: ParseInt},
	{Name: "PPV", Description: "Panel power", Unit: "W", Parse: ParseInt},
	{Name: "I", Description: "Battery current", Unit: "mA", Parse: ParseInt},
	{Name: "IL", Description: "Load current", Unit: "mA", Parse: ParseInt},
	{Name: "LOAD", Description: "Load output state"},
	{Name: "T", Description: "Battery temperature", Unit: "°C", Parse: ParseInt},
	{Name: "P", Description: "Instantaneous power", Unit: "W", Parse: ParseInt},
	{Name: "CE", Description: "Consumed energy", Unit: "mAh", Parse: ParseInt},
	{Name: "SOC", Description: "State of charge", Unit: "‰", Precision: 1, Parse: ParseInt},
	{Name: "TTG", Description: "Time to go", Unit: "min", Parse: ParseInt},
	{Name: "Alarm", Description: "Alarm condition active"},
	{Name: "Relay", Description: "Relay state"},
	{Name: "AR", Description: "Alarm reason", Parse: ParseInt},
	{Name: "OR", Description: "Off reason"},
	{Name: "H1", Description: "Depth of the deepest discharge", Unit: "mAh", Parse: ParseInt},
	{Name: "H2", Description: "Depth of the last discharge", Unit: "mAh", Parse: ParseInt},
	{Name: "H3", Description: "Depth of the average discharge", Unit: "mAh", Parse: ParseInt},
	{Name: "H4", Description: "Number of charge cycles", Parse: ParseInt},
	{Name: "H5", Description: "Number of full discharges", Parse: ParseInt},
	{Name: "H6", Description: "Cumulative Amp Hours drawn", Unit: "mAh", Parse: ParseInt},
	{Name: "H7", Description: "Minimum main battery voltage", Unit: "mV", Parse: ParseInt},
	{Name: "H8", Description: "Maximum main battery voltage", Unit: "mV", Parse: ParseInt},
	{Name: "H9", Description: "Seconds since last full charge", Unit: "s", Parse: ParseInt},
	{Name: "H10", Description: "Number of automatic synchronizations", Parse: ParseInt},
	{Name: "H11", Description: "Number of low main voltage alarms", Parse: ParseInt},
	{Name: "H12", Description: "Number of high main voltage alarms", Parse: ParseInt},
	{Name: "H17", Description: "Discharged energy", Unit: "0.01kWh", Parse: ParseInt},
	{Name: "H18", Description: "Charged energy", Unit: "0.01kWh", Parse: ParseInt},
	{Name: "H19", Description: "Yield total", Unit: "0.01kWh", Parse: ParseInt},
	{Name: "H20", Description: "Yield today", Unit: "0.01kWh", Parse: ParseInt},
	{Name: "H21", Description: "Maximum power today", Unit: "W", Parse: ParseInt},
	{Name: "H22", Description: "Yield yesterday", Unit: "0.01kWh", Parse: ParseInt},
	{Name: "H23", Description: "Maximum power yesterday", Unit: "W", Parse: ParseInt},
	{Name: "ERR", Description: "Error code", Parse: ParseInt},
	{Name: "CS", Description: "State of operation", Parse: ParseInt},
	{Name: "BMV", Description: "Model description"},
	{Name: "FW", Description: "Firmware version"},
	{Name: "PID", Description: "Product ID"},
	{Name: "SER#", Description: "Serial number"},
	{Name: "HSDS", Description: "Day sequence number", Parse: ParseInt},
	{Name: "MODE", Description: "Device mode", Parse: ParseInt},
	{Name: "MPPT", Description: "Tracker operation mode", Parse: ParseInt},
}

// HEX registers reachable with get/set commands.
var hexRegisters = []Register{
	{Name: "productId", Address: "0x0100", Description: "Product ID", Decode: Unsigned(4, 1)},
	{Name: "stateOfCharge", Address: "0x0FFF", Description: "State of charge", Unit: "%", Precision: 2, Decode: Unsigned(2, 0.01)},
	{Name: "batteryCapacity", Address: "0x1000", Description: "Battery capacity", Unit: "Ah", Decode: Unsigned(2, 1)},
	{Name: "chargedVoltage", Address: "0x1001", Description: "Charged voltage", Unit: "V", Precision: 1, Decode: Unsigned(2, 0.1)},
	{Name: "tailCurrent", Address: "0x1002", Description: "Tail current", Unit: "%", Precision: 1, Decode: Unsigned(2, 0.1)},
	{Name: "chargedDetectionTime", Address: "0x1003", Description: "Charged detection time", Unit: "min", Decode: Unsigned(2, 1)},
	{Name: "peukertExponent", Address: "0x1005", Description: "Peukert exponent", Precision: 2, Decode: Unsigned(2, 0.01)},
	{Name: "currentThreshold", Address: "0x1006", Description: "Current threshold", Unit: "A", Precision: 2, Decode: Unsigned(2, 0.01)},
	{Name: "timeToGoDelta", Address: "0x1007", Description: "Time-to-go averaging period", Unit: "min", Decode: Unsigned(2, 1)},
	{Name: "relayLowSOC", Address: "0x1008", Description: "Relay low SOC", Unit: "%", Precision: 1, Decode: Unsigned(2, 0.1)},
	{Name: "relayLowSOCClear", Address: "0x1009", Description: "Relay low SOC clear", Unit: "%", Precision: 1, Decode: Unsigned(2, 0.1)},
	{Name: "relayMode", Address: "0x034F", Description: "Relay mode", Decode: Unsigned(1, 1)},
	{Name: "mainVoltage", Address: "0xED8D", Description: "Main battery voltage", Unit: "V", Precision: 2, Decode: Signed(2, 0.01)},
	{Name: "current", Address: "0xED8F", Description: "Battery current", Unit: "A", Precision: 1, Decode: Signed(2, 0.1)},
	{Name: "power", Address: "0xED8E", Description: "Battery power", Unit: "W", Decode: Signed(2, 1)},
	{Name: "consumedAh", Address: "0xEEFF", Description: "Consumed amp hours", Unit: "Ah", Precision: 1, Decode: Signed(4, 0.1)},
	{Name: "timeToGo", Address: "0x0FFE", Description: "Time to go", Unit: "min", Decode: Unsigned(2, 1)},
	{Name: "deviceMode", Address: "0x0200", Description: "Device mode", Decode: Unsigned(1, 1)},
	{Name: "deviceState", Address: "0x0201", Description: "Device state", Decode: Unsigned(1, 1)},
	{Name: "panelPower", Address: "0xEDBC", Description: "Panel power", Unit: "W", Precision: 2, Decode: Unsigned(4, 0.01)},
	{Name: "panelVoltage", Address: "0xEDBB", Description: "Panel voltage", Unit: "V", Precision: 2, Decode: Unsigned(2, 0.01)},
	{Name: "chargerCurrent", Address: "0xEDD7", Description: "Charger current", Unit: "A", Precision: 1, Decode: Unsigned(2, 0.1)},
	{Name: "batteryMaxCurrent", Address: "0xEDF0", Description: "Battery maximum current", Unit: "A", Precision: 1, Decode: Unsigned(2, 0.1)},
	{Name: "modelName", Address: "0x010A", Description: "Model name", Decode: Text},
	{Name: "serialNumber", Address: "0x010B", Description: "Serial number", Decode: Text},
}

// Defaults returns the built-in register definitions.
func Defaults() []Register {
	out := make([]Register, 0, len(telemetryFields)+len(hexRegisters))
	out = append(out, telemetryFields...)
	out = append(out, hexRegisters...)
	return out
}

// NewDefaultDirectory returns a directory pre-populated with Defaults.
func NewDefaultDirectory() *Directory {
	d, err := NewDirectory(Defaults()...)
	if err != nil {
		panic("register: invalid default table: " + err.Error())
	}
	return d
}
