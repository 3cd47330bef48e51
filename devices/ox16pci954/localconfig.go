// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ox16pci954

import (
	"fmt"

	"github.com/axxon/eepromtool/conn/pciwindow"
)

// Mode is the chip's function-1 bus personality, LCC[1:0].
type Mode int

const (
	UartAndEightBitLocalBus Mode = iota
	UartAndParallelPort
	UartAndSubsystemIDs
	ThirtyTwoBitLocalBus
)

func decodeMode(v byte) Mode { return Mode(v & 0x03) }

// EndianByteLane is LCC[4:3], which byte lane of a dword the 8-bit local
// bus addresses.
type EndianByteLane int

const (
	Lane0 EndianByteLane = iota
	Lane1
	Lane2
	Lane3
)

func decodeEndianByteLane(v byte) EndianByteLane {
	return EndianByteLane((v >> 3) & 0x03)
}

// PowerDownFilterTime is LCC[6:5].
type PowerDownFilterTime int

const (
	FilterDisabled PowerDownFilterTime = iota
	FilterWait4Seconds
	FilterWait129Seconds
	FilterWait518Seconds
)

func decodeFilterTime(v byte) PowerDownFilterTime {
	return PowerDownFilterTime((v >> 5) & 0x03)
}

// MioConfiguration is the 2-bit personality of one multi-purpose IO pin.
type MioConfiguration int

const (
	MioNonInvertingInput MioConfiguration = iota
	MioInvertingInput
	MioOutputZero
	MioOutputOne
)

func decodeMio(v byte) MioConfiguration { return MioConfiguration(v & 0x03) }

// MioConfigOrPME is MIO2's dual role: a plain MioConfiguration, unless the
// function-1 MIO2-PME-enable bit is set, in which case it carries a PME
// enable flag instead.
type MioConfigOrPME struct {
	IsPME  bool
	Mio    MioConfiguration
	PME    bool
}

// LocalConfig is the decoded contents of BAR3's first 32 bytes, the
// chip's seven local-configuration registers.
type LocalConfig struct {
	Mode                  Mode
	UARTClockOutput        bool
	EndianByteLane         EndianByteLane
	PowerDownFilterTime    PowerDownFilterTime
	Function1MIO2PMEEnable bool

	EEPROMDataIn           bool
	EEPROMValid            bool
	EEPROMReloadInProgress bool

	MIO0  *MioConfiguration // nil in parallel-port mode
	MIO1  *MioConfiguration // nil unless PowerDownFilterTime is Disabled
	MIO2  MioConfigOrPME
	MIO3  MioConfiguration
	MIO4  MioConfiguration
	MIO5  MioConfiguration
	MIO6  MioConfiguration
	MIO7  MioConfiguration
	MIO8  MioConfiguration
	MIO9  MioConfiguration
	MIO10 MioConfiguration
	MIO11 MioConfiguration

	LocalBusReadChipSelectAssertion    byte
	LocalBusReadChipSelectDeassertion  byte
	LocalBusWriteChipSelectAssertion   byte
	LocalBusWriteChipSelectDeassertion byte
	LocalBusReadControlAssertion       byte
	LocalBusReadControlDeassertion     byte
	LocalBusWriteControlAssertion      byte
	LocalBusWriteControlDeassertion    byte

	LocalBusWriteDataBusControlAssertion   byte
	LocalBusWriteDataBusControlDeassertion byte
	LocalBusReadDataBusControlAssertion    byte
	LocalBusReadDataBusControlDeassertion  byte
	Function1BAR0BlockSize                 byte
	LocalBusLowerAddressCSDecode           byte
	Function1BAR1BlockSize                 *byte // only set in ThirtyTwoBitLocalBus mode
	LocalBusSoftwareReset                  bool
	LocalBusClockEnable                    bool
	LocalBusInterfaceType                  bool

	UARTReceiverLevels    [4]byte
	UARTTransmitterLevels [4]byte
	UARTInterruptSource   [4]byte
	// UARTGoodStatus holds byte 0x1B bits [6:3] and UARTGlobalGoodStatus
	// bit 7. The three low bits [2:0] are preserved raw in GoodStatusRaw
	// rather than decoded into individual flags: the chip documentation
	// available for this driver does not specify distinct meaning for
	// them, unlike the four good-status bits and the global good-status
	// bit above them.
	UARTGoodStatus       [4]bool
	UARTGlobalGoodStatus bool
	GoodStatusRaw     byte // byte 0x1B bits [2:0], undocumented

	UARTInterruptState [4]bool
	MIOState           [12]bool
	UARTInterruptMask  [4]bool
	MIOMask            [12]bool
}

// localConfigLen is the number of "real" bytes behind BAR3; the resource
// is 4096 bytes but every 32-byte window mirrors the same registers.
const localConfigLen = 32

// DecodeLocalConfig reads the first 32 bytes of res (BAR3 of an
// OX16PCI954 endpoint) and unpacks them into a LocalConfig. The mapping
// is purely positional, reproducing the chip's register layout
// byte-for-byte and bit-for-bit.
func DecodeLocalConfig(res pciwindow.Resource) (*LocalConfig, error) {
	if res.Len() < localConfigLen {
		return nil, fmt.Errorf("ox16pci954: resource too small for local configuration: got %d bytes, need %d", res.Len(), localConfigLen)
	}
	var buf [localConfigLen]byte
	for i := range buf {
		b, err := res.ReadByte(i)
		if err != nil {
			return nil, fmt.Errorf("ox16pci954: reading local configuration byte %#x: %w", i, err)
		}
		buf[i] = b
	}
	return decodeLocalConfigBytes(&buf), nil
}

func decodeLocalConfigBytes(buf *[localConfigLen]byte) *LocalConfig {
	c := &LocalConfig{}

	// 0x00: LCC — Local Configuration and Control register.
	c.Mode = decodeMode(buf[0x00])
	c.UARTClockOutput = buf[0x00]&0x04 != 0
	c.EndianByteLane = decodeEndianByteLane(buf[0x00])
	c.PowerDownFilterTime = decodeFilterTime(buf[0x00])
	c.Function1MIO2PMEEnable = buf[0x00]&0x80 != 0

	// 0x01, 0x02: reserved.

	// 0x03: EEPROM status.
	c.EEPROMDataIn = buf[0x03]&0x08 != 0
	c.EEPROMValid = buf[0x03]&0x10 != 0
	c.EEPROMReloadInProgress = buf[0x03]&0x20 != 0

	// 0x04: MIC — Multi-purpose I/O Configuration, MIO 0..3.
	if c.Mode != UartAndParallelPort {
		mio0 := decodeMio(buf[0x04])
		c.MIO0 = &mio0
	}
	if c.PowerDownFilterTime == FilterDisabled {
		mio1 := decodeMio(buf[0x04] >> 2)
		c.MIO1 = &mio1
	}
	if c.Function1MIO2PMEEnable {
		c.MIO2 = MioConfigOrPME{IsPME: true, PME: buf[0x04]&0x10 != 0}
	} else {
		c.MIO2 = MioConfigOrPME{Mio: decodeMio(buf[0x04] >> 4)}
	}
	c.MIO3 = decodeMio(buf[0x04] >> 6)

	// 0x05: MIO 4..7.
	c.MIO4 = decodeMio(buf[0x05])
	c.MIO5 = decodeMio(buf[0x05] >> 2)
	c.MIO6 = decodeMio(buf[0x05] >> 4)
	c.MIO7 = decodeMio(buf[0x05] >> 6)

	// 0x06: MIO 8..11.
	c.MIO8 = decodeMio(buf[0x06])
	c.MIO9 = decodeMio(buf[0x06] >> 2)
	c.MIO10 = decodeMio(buf[0x06] >> 4)
	c.MIO11 = decodeMio(buf[0x06] >> 6)

	// 0x07: reserved.

	// 0x08: LT1 — Local Bus Timing 1, Read Chip-select (de)assertion.
	c.LocalBusReadChipSelectAssertion = buf[0x08] & 0x0F
	c.LocalBusReadChipSelectDeassertion = buf[0x08] >> 4

	// 0x09: Write Chip-select (de)assertion.
	c.LocalBusWriteChipSelectAssertion = buf[0x09] & 0x0F
	c.LocalBusWriteChipSelectDeassertion = buf[0x09] >> 4

	// 0x0A: Read Control/Data-strobe (de)assertion.
	c.LocalBusReadControlAssertion = buf[0x0A] & 0x0F
	c.LocalBusReadControlDeassertion = buf[0x0A] >> 4

	// 0x0B: Write Control/Data-strobe (de)assertion.
	c.LocalBusWriteControlAssertion = buf[0x0B] & 0x0F
	c.LocalBusWriteControlDeassertion = buf[0x0B] >> 4

	// 0x0C: LT2 — Local Bus Timing 2, Write Data Bus (de)assertion.
	c.LocalBusWriteDataBusControlAssertion = buf[0x0C] & 0x0F
	c.LocalBusWriteDataBusControlDeassertion = buf[0x0C] >> 4

	// 0x0D: Read Data Bus (de)assertion.
	c.LocalBusReadDataBusControlAssertion = buf[0x0D] & 0x0F
	c.LocalBusReadDataBusControlDeassertion = buf[0x0D] >> 4

	// 0x0E, 0x0F: mixed fields.
	c.Function1BAR0BlockSize = (buf[0x0E] >> 4) & 0x07
	c.LocalBusLowerAddressCSDecode = (buf[0x0E] >> 7) | ((buf[0x0F] & 0x07) << 1)
	if c.Mode == ThirtyTwoBitLocalBus {
		bar1 := (buf[0x0F] >> 3) & 0x03
		c.Function1BAR1BlockSize = &bar1
	}
	c.LocalBusSoftwareReset = buf[0x0F]&0x20 != 0
	c.LocalBusClockEnable = buf[0x0F]&0x40 != 0
	c.LocalBusInterfaceType = buf[0x0F]&0x80 != 0

	// 0x10..0x13: URL — UART Receiver FIFO Levels.
	copy(c.UARTReceiverLevels[:], buf[0x10:0x14])

	// 0x14..0x17: UTL — UART Transmitter FIFO Levels.
	copy(c.UARTTransmitterLevels[:], buf[0x14:0x18])

	// 0x18..0x1A: UIS — UART Interrupt Source, 6 bits per UART packed
	// across byte boundaries.
	c.UARTInterruptSource = [4]byte{
		buf[0x18] & 0x3F,
		((buf[0x19] & 0x0F) << 2) | (buf[0x18] >> 6),
		((buf[0x1A] & 0x03) << 4) | (buf[0x19] >> 4),
		buf[0x1A] >> 2,
	}

	// 0x1B: good status.
	c.UARTGoodStatus = [4]bool{
		buf[0x1B]&0x08 != 0,
		buf[0x1B]&0x10 != 0,
		buf[0x1B]&0x20 != 0,
		buf[0x1B]&0x40 != 0,
	}
	c.UARTGlobalGoodStatus = buf[0x1B]&0x80 != 0
	c.GoodStatusRaw = buf[0x1B] & 0x07

	// 0x1C, 0x1D: GIS — Global Interrupt Status, interrupt state + MIO state.
	c.UARTInterruptState = [4]bool{
		buf[0x1C]&0x01 != 0,
		buf[0x1C]&0x02 != 0,
		buf[0x1C]&0x04 != 0,
		buf[0x1C]&0x08 != 0,
	}
	c.MIOState = [12]bool{
		buf[0x1C]&0x10 != 0,
		buf[0x1C]&0x20 != 0,
		buf[0x1C]&0x40 != 0,
		buf[0x1C]&0x80 != 0,
		buf[0x1D]&0x01 != 0,
		buf[0x1D]&0x02 != 0,
		buf[0x1D]&0x04 != 0,
		buf[0x1D]&0x08 != 0,
		buf[0x1D]&0x10 != 0,
		buf[0x1D]&0x20 != 0,
		buf[0x1D]&0x40 != 0,
		buf[0x1D]&0x80 != 0,
	}

	// 0x1E, 0x1F: interrupt mask + MIO mask.
	c.UARTInterruptMask = [4]bool{
		buf[0x1E]&0x01 != 0,
		buf[0x1E]&0x02 != 0,
		buf[0x1E]&0x04 != 0,
		buf[0x1E]&0x08 != 0,
	}
	c.MIOMask = [12]bool{
		buf[0x1E]&0x10 != 0,
		buf[0x1E]&0x20 != 0,
		buf[0x1E]&0x40 != 0,
		buf[0x1E]&0x80 != 0,
		buf[0x1F]&0x01 != 0,
		buf[0x1F]&0x02 != 0,
		buf[0x1F]&0x04 != 0,
		buf[0x1F]&0x08 != 0,
		buf[0x1F]&0x10 != 0,
		buf[0x1F]&0x20 != 0,
		buf[0x1F]&0x40 != 0,
		buf[0x1F]&0x80 != 0,
	}

	return c
}
