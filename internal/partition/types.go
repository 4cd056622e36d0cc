package partition

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the partition type byte of a table record.
type Type uint8

const (
	TypeApp  Type = 0x00
	TypeData Type = 0x01
)

func (t Type) String() string {
	switch t {
	case TypeApp:
		return "app"
	case TypeData:
		return "data"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

// SubType is the partition subtype byte; its meaning depends on the Type.
type SubType uint8

// App subtypes.
const (
	SubTypeFactory SubType = 0x00
	SubTypeOTAMin  SubType = 0x10
	SubTypeOTAMax  SubType = 0x1F
	SubTypeTest    SubType = 0x20
)

// Data subtypes.
const (
	SubTypeOTA       SubType = 0x00
	SubTypePhy       SubType = 0x01
	SubTypeNVS       SubType = 0x02
	SubTypeCoreDump  SubType = 0x03
	SubTypeNVSKeys   SubType = 0x04
	SubTypeEfuse     SubType = 0x05
	SubTypeUndefined SubType = 0x06
	SubTypeFAT       SubType = 0x81
	SubTypeSPIFFS    SubType = 0x82
	SubTypeLittleFS  SubType = 0x83
)

// SubTypeOTASlot returns the app subtype of OTA slot i (ota_0 … ota_15).
func SubTypeOTASlot(i uint32) SubType {
	return SubTypeOTAMin + SubType(i)
}

var dataSubTypes = map[string]SubType{
	"ota":       SubTypeOTA,
	"phy":       SubTypePhy,
	"nvs":       SubTypeNVS,
	"coredump":  SubTypeCoreDump,
	"nvs_keys":  SubTypeNVSKeys,
	"efuse":     SubTypeEfuse,
	"undefined": SubTypeUndefined,
	"fat":       SubTypeFAT,
	"spiffs":    SubTypeSPIFFS,
	"littlefs":  SubTypeLittleFS,
}

// SubTypeName renders sub the way partition layouts spell it.
func SubTypeName(t Type, sub SubType) string {
	switch t {
	case TypeApp:
		switch {
		case sub == SubTypeFactory:
			return "factory"
		case sub >= SubTypeOTAMin && sub <= SubTypeOTAMax:
			return fmt.Sprintf("ota_%d", sub-SubTypeOTAMin)
		case sub == SubTypeTest:
			return "test"
		}
	case TypeData:
		for name, v := range dataSubTypes {
			if v == sub {
				return name
			}
		}
	}
	return fmt.Sprintf("0x%02x", uint8(sub))
}

// ParseType accepts "app", "data" or a numeric byte.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "app":
		return TypeApp, nil
	case "data":
		return TypeData, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown partition type %q", s)
	}
	return Type(v), nil
}

// ParseSubType resolves a symbolic or numeric subtype for type t.
func ParseSubType(t Type, s string) (SubType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch t {
	case TypeApp:
		switch {
		case name == "factory":
			return SubTypeFactory, nil
		case name == "test":
			return SubTypeTest, nil
		case strings.HasPrefix(name, "ota_"):
			n, err := strconv.ParseUint(strings.TrimPrefix(name, "ota_"), 10, 8)
			if err != nil || n > uint64(SubTypeOTAMax-SubTypeOTAMin) {
				return 0, fmt.Errorf("invalid app subtype %q", s)
			}
			return SubTypeOTASlot(uint32(n)), nil
		}
	case TypeData:
		if v, ok := dataSubTypes[name]; ok {
			return v, nil
		}
	}
	v, err := strconv.ParseUint(name, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown %s subtype %q", t, s)
	}
	return SubType(v), nil
}
