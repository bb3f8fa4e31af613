// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"unsafe"
)

// EEPROM is the unprocessed EEPROM content.
//
// The EEPROM is in 3 parts: the defined struct, the 4 strings and the rest
// which is used as an 'user area'. The size of the user area depends on the
// length of the strings. The user area content is not included in this
// struct. seedd only ever reads the EEPROM, to recover a device's serial
// number for per-device config lookup, so programming support (WriteEEPROM,
// the per-chip layout structs) is not carried here.
type EEPROM struct {
	// Raw is the raw EEPROM content. It excludes the strings.
	Raw []byte

	Manufacturer   string
	ManufacturerID string
	Desc           string
	Serial         string
}

// AsHeader returns the Raw data aliased as EEPROMHeader.
func (e *EEPROM) AsHeader() *EEPROMHeader {
	// sizeof(EEPROMHeader)
	if len(e.Raw) < 16 {
		return nil
	}
	return (*EEPROMHeader)(unsafe.Pointer(&e.Raw[0]))
}

// EEPROMHeader is the common header found on FTDI devices.
//
// It is 16 bytes long.
type EEPROMHeader struct {
	DeviceType     DevType // 0x00 FTxxxx device type to be programmed
	VendorID       uint16  // 0x04 Defaults to 0x0403; can be changed
	ProductID      uint16  // 0x06 Defaults to 0x6001 for FT232R, 0x6014 for FT232H, relevant value
	SerNumEnable   uint8   // 0x07 bool Non-zero if serial number to be used
	Unused0        uint8   // 0x08 For alignment.
	MaxPower       uint16  // 0x0A 0mA < MaxPower <= 500mA
	SelfPowered    uint8   // 0x0C bool 0 = bus powered, 1 = self powered
	RemoteWakeup   uint8   // 0x0D bool 0 = not capable, 1 = capable; RI# low will wake host in 20ms.
	PullDownEnable uint8   // 0x0E bool Non zero if pull down in suspend enabled
	Unused1        uint8   // 0x0F For alignment.
}

// DevType is the FTDI device type.
type DevType uint32

const (
	DevTypeFTBM DevType = iota // 0
	DevTypeFTAM
	DevTypeFT100AX
	DevTypeUnknown // 3
	DevTypeFT2232C
	DevTypeFT232R // 5
	DevTypeFT2232H
	DevTypeFT4232H
	DevTypeFT232H // 8
	DevTypeFTXSeries
	DevTypeFT4222H0
	DevTypeFT4222H1_2
	DevTypeFT4222H3
	DevTypeFT4222Prog
	DevTypeFT900
	DevTypeFT930
	DevTypeFTUMFTPD3A
)

// EEPROMSize returns the size of the EEPROM for this device.
func (d DevType) EEPROMSize() int {
	switch d {
	case DevTypeFT232H:
		// sizeof(EEPROMFT232H)
		return 44
	case DevTypeFT2232H:
		// sizeof(EEPROMFT2232H)
		return 40
	case DevTypeFT232R:
		// sizeof(EEPROMFT232R)
		return 32
	default:
		return 256
	}
}

const devTypeName = "FTBMFTAMFT100AXUnknownFT2232CFT232RFT2232HFT4232HFT232HFTXSeriesFT4222H0FT4222H1/2FT4222H3FT4222ProgFT900FT930FTUMFTPD3A"

var devTypeIndex = [...]uint8{0, 4, 8, 15, 22, 29, 35, 42, 49, 55, 64, 72, 82, 90, 100, 105, 110, 120}

func (d DevType) String() string {
	if d >= DevType(len(devTypeIndex)-1) {
		d = DevTypeUnknown
	}
	return devTypeName[devTypeIndex[d]:devTypeIndex[d+1]]
}
