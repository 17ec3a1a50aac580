// Package commandclass names Z-Wave command classes and parses operator
// supplied command class lists.
package commandclass

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// ID is a one-byte command class identifier
type ID uint8

const (
	Basic                ID = 0x20
	SwitchBinary         ID = 0x25
	SwitchMultilevel     ID = 0x26
	SensorBinary         ID = 0x30
	SensorMultilevel     ID = 0x31
	Meter                ID = 0x32
	ThermostatMode       ID = 0x40
	ThermostatSetpoint   ID = 0x43
	DoorLockLogging      ID = 0x4C
	DoorLock             ID = 0x62
	UserCode             ID = 0x63
	BarrierOperator      ID = 0x66
	Configuration        ID = 0x70
	Alarm                ID = 0x71
	ManufacturerSpecific ID = 0x72
	Battery              ID = 0x80
	WakeUp               ID = 0x84
	Association          ID = 0x85
	Version              ID = 0x86
	Security             ID = 0x98

	// Mark separates supported classes from controlled classes in a list
	Mark ID = 0xEF
)

var ErrInvalidID = errors.New("invalid command class id")

var names = map[ID]string{
	Basic:                "COMMAND_CLASS_BASIC",
	SwitchBinary:         "COMMAND_CLASS_SWITCH_BINARY",
	SwitchMultilevel:     "COMMAND_CLASS_SWITCH_MULTILEVEL",
	SensorBinary:         "COMMAND_CLASS_SENSOR_BINARY",
	SensorMultilevel:     "COMMAND_CLASS_SENSOR_MULTILEVEL",
	Meter:                "COMMAND_CLASS_METER",
	ThermostatMode:       "COMMAND_CLASS_THERMOSTAT_MODE",
	ThermostatSetpoint:   "COMMAND_CLASS_THERMOSTAT_SETPOINT",
	DoorLockLogging:      "COMMAND_CLASS_DOOR_LOCK_LOGGING",
	DoorLock:             "COMMAND_CLASS_DOOR_LOCK",
	UserCode:             "COMMAND_CLASS_USER_CODE",
	BarrierOperator:      "COMMAND_CLASS_BARRIER_OPERATOR",
	Configuration:        "COMMAND_CLASS_CONFIGURATION",
	Alarm:                "COMMAND_CLASS_ALARM",
	ManufacturerSpecific: "COMMAND_CLASS_MANUFACTURER_SPECIFIC",
	Battery:              "COMMAND_CLASS_BATTERY",
	WakeUp:               "COMMAND_CLASS_WAKE_UP",
	Association:          "COMMAND_CLASS_ASSOCIATION",
	Version:              "COMMAND_CLASS_VERSION",
	Security:             "COMMAND_CLASS_SECURITY",
	Mark:                 "COMMAND_CLASS_MARK",
}

// String returns the class name, or its hex value when unknown
func (id ID) String() string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", uint8(id))
}

// ParseID parses a hex id with or without a 0x prefix
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return 0, oops.Wrapf(ErrInvalidID, "empty value")
	}
	v, err := strconv.ParseUint(digits, 16, 8)
	if err != nil {
		return 0, oops.Wrapf(ErrInvalidID, "%q", s)
	}
	return ID(v), nil
}

// ParseList parses a comma separated hex list such as "0x62,0x4c,0x63".
// Empty entries are skipped.
func ParseList(s string) (Set, error) {
	set := NewSet()
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ParseID(part)
		if err != nil {
			return nil, err
		}
		set.Insert(id)
	}
	return set, nil
}

// SplitAtMark splits a raw class list into the supported classes before
// Mark and the controlled classes after it.
func SplitAtMark(raw []byte) (supported, controlled []ID) {
	target := &supported
	for _, b := range raw {
		if ID(b) == Mark {
			target = &controlled
			continue
		}
		*target = append(*target, ID(b))
	}
	return supported, controlled
}
