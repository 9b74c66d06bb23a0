// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx1272

// Register addresses, LoRa page.
const (
	REG_FIFO           = 0x00
	REG_OPMODE         = 0x01
	REG_FRFMSB         = 0x06
	REG_FRFMID         = 0x07
	REG_FRFLSB         = 0x08
	REG_PACONFIG       = 0x09
	REG_PARAMP         = 0x0A
	REG_OCP            = 0x0B
	REG_LNA            = 0x0C
	REG_FIFOADDRPTR    = 0x0D
	REG_FIFOTXBASE     = 0x0E
	REG_FIFORXBASE     = 0x0F
	REG_FIFORXCURR     = 0x10
	REG_IRQMASK        = 0x11
	REG_IRQFLAGS       = 0x12
	REG_RXNBBYTES      = 0x13
	REG_MODEMSTAT      = 0x18
	REG_PKTSNR         = 0x19
	REG_PKTRSSI        = 0x1A
	REG_CURRSSI        = 0x1B
	REG_HOPCHANNEL     = 0x1C
	REG_MODEMCONF1     = 0x1D
	REG_MODEMCONF2     = 0x1E
	REG_SYMBTIMEOUTLSB = 0x1F
	REG_PREAMBLEMSB    = 0x20
	REG_PREAMBLELSB    = 0x21
	REG_PAYLOADLENGTH  = 0x22
	REG_PAYLOADMAX     = 0x23
	REG_HOPPERIOD      = 0x24
	REG_FIFORXBYTE     = 0x25
	REG_FEIMSB         = 0x28
	REG_RSSIWIDEBAND   = 0x2C
	REG_DETECTOPT      = 0x31
	REG_INVERTIQ       = 0x33
	REG_DETECTTHR      = 0x37
	REG_SYNC           = 0x39
	REG_INVERTIQ2      = 0x3B
	REG_DIOMAPPING1    = 0x40
	REG_DIOMAPPING2    = 0x41
	REG_VERSION        = 0x42
	REG_PLLHOP         = 0x44
	REG_PADAC          = 0x4A
	REG_TCXO           = 0x4B
)

// Operating modes, the low three bits of REG_OPMODE.
const (
	MODE_SLEEP = iota
	MODE_STANDBY
	MODE_FS_TX     // frequency synthesis TX
	MODE_TX        // TX
	MODE_FS_RX     // frequency synthesis RX
	MODE_RX_CONT   // RX continuous
	MODE_RX_SINGLE // RX single
	MODE_CAD       // channel activity detection
)

const (
	OPMODE_MASK           = 0xF8 // everything but the mode field
	OPMODE_LONGRANGE_MASK = 0x7F
	OPMODE_LONGRANGE_ON   = 0x80
)

// IRQ mask and flags registers.
const (
	IRQ_RXTIMEOUT = 1 << 7
	IRQ_RXDONE    = 1 << 6
	IRQ_CRCERR    = 1 << 5
	IRQ_VALIDHDR  = 1 << 4
	IRQ_TXDONE    = 1 << 3
	IRQ_CADDONE   = 1 << 2
	IRQ_FHSCHG    = 1 << 1
	IRQ_CADDETECT = 1 << 0
	IRQ_ALL       = 0xFF
)

// ModemConfig1 fields. The masks clear a field, the shifts place its value.
const (
	MC1_BW_MASK       = 0x3F
	MC1_BW_SHIFT      = 6
	MC1_CR_MASK       = 0xC7
	MC1_CR_SHIFT      = 3
	MC1_IMPLICIT_MASK = 0xFB
	MC1_IMPLICIT_ON   = 0x04
	MC1_CRC_MASK      = 0xFD
	MC1_CRC_ON        = 0x02
	MC1_LDRO_MASK     = 0xFE
	MC1_LDRO_ON       = 0x01
)

// ModemConfig2 fields.
const (
	MC2_SF_MASK        = 0x0F
	MC2_SF_SHIFT       = 4
	MC2_AGCAUTO_MASK   = 0xFB
	MC2_AGCAUTO_ON     = 0x04
	MC2_SYMBTOMSB_MASK = 0xFC
)

// Power amplifier configuration.
const (
	PACONFIG_PASELECT_MASK = 0x7F
	PACONFIG_PABOOST       = 0x80
	PACONFIG_RFO           = 0x00
	PACONFIG_POWER_MASK    = 0xF0
	PADAC_20DBM_MASK       = 0xF8
	PADAC_20DBM_ON         = 0x07
	PADAC_20DBM_OFF        = 0x04
)

const (
	LNA_BOOST_MASK = 0xFC
	LNA_BOOST_ON   = 0x03
)

// DIO mapping fields, two bits per line.
const (
	DIO0_MASK = 0x3F
	DIO0_00   = 0x00
	DIO0_01   = 0x40
	DIO1_MASK = 0xCF
	DIO2_MASK = 0xF3
	DIO2_00   = 0x00
	DIO3_MASK = 0xFC
	DIO3_00   = 0x00
	DIO4_MASK = 0x3F
	DIO4_00   = 0x00
	DIO5_MASK = 0xCF
)

const (
	PLLHOP_FASTHOP_MASK = 0x7F
	PLLHOP_FASTHOP_ON   = 0x80
	HOPCHANNEL_MASK     = 0x3F
)

// I/Q inversion registers.
const (
	INVERTIQ_RX_MASK = 0xBF
	INVERTIQ_RX_ON   = 0x40
	INVERTIQ_RX_OFF  = 0x00
	INVERTIQ_TX_MASK = 0xFE
	INVERTIQ_TX_ON   = 0x01
	INVERTIQ_TX_OFF  = 0x00
	INVERTIQ2_ON     = 0x19
	INVERTIQ2_OFF    = 0x1D
)

// Detection optimization and threshold values valid for SF7..SF12.
const (
	DETECTOPT_MASK    = 0xF8
	DETECTOPT_SF7TO12 = 0x03
	DETECTTHR_SF7TO12 = 0x0A
)

const (
	VERSION_SX1272 = 0x22 // chip revision reported by REG_VERSION

	FXOSC           = 32000000  // crystal oscillator in Hz
	MID_BAND_THRESH = 525000000 // Hz, below this the boosted PA path is used

	RSSI_OFFSET = -139 // dBm offset for raw RSSI register readings
)
