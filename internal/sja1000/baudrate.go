package sja1000

import "fmt"

// BaudRate indexes the precomputed bus timing register table, mirroring
// ECanBaudRate in original_source/resmgr/src/sja1000_can_controller.h.
type BaudRate uint8

const (
	BaudRateNone BaudRate = iota // not present, placeholder index 0
	BaudRate1M
	BaudRate800K
	BaudRate500K
	BaudRate250K
	BaudRate125K
	BaudRate100K
	BaudRate50K
	BaudRate20K
	BaudRate10K
)

// busTiming0/busTiming1 are the precomputed BTR0/BTR1 values for each
// BaudRate, taken verbatim from SJA1000CanController::InitController's
// BitTiming0/BitTiming1 tables (sja1000_can_controller.cpp).
var busTiming0 = [...]uint8{
	0x00, // BaudRateNone, unused
	0x00, // 1M   BRP=1 SJW=1
	0x40, // 800K BRP=1 SJW=2
	0x80, // 500K BRP=1 SJW=3
	0x81, // 250K BRP=2 SJW=3
	0x83, // 125K BRP=4 SJW=3
	0x84, // 100K BRP=5 SJW=3
	0xC7, // 50K  BRP=8 SJW=4
	0x67, // 20K  BRP=40 SJW=2
	0xE7, // 10K  BRP=40 SJW=4
}

var busTiming1 = [...]uint8{
	0x00, // BaudRateNone, unused
	0x14, // 1M   TSEG1=5  TSEG2=2  75%
	0x25, // 800K TSEG1=6  TSEG2=3  70%
	0x58, // 500K TSEG1=9  TSEG2=6  62.5%
	0x58, // 250K TSEG1=9  TSEG2=6  62.5%
	0x58, // 125K TSEG1=9  TSEG2=6  62.5%
	0x58, // 100K TSEG1=9  TSEG2=6  62.5%
	0x7A, // 50K  TSEG1=11 TSEG2=8  60%
	0x25, // 20K  TSEG1=6  TSEG2=3  70%
	0x7A, // 10K  TSEG1=11 TSEG2=8  60%
}

// ParseBaudRate maps a bit rate in kbit/s to a BaudRate, matching
// ControllerFactory::CreateController's switch (controller_factory.cpp).
// This entry point was present in the original's getopt-parsed -s flag
// but absent from the distilled flag list; it is restored here so the
// command-line interface can still select a bus speed.
func ParseBaudRate(kbps int) (BaudRate, error) {
	switch kbps {
	case 1000:
		return BaudRate1M, nil
	case 800:
		return BaudRate800K, nil
	case 500:
		return BaudRate500K, nil
	case 250:
		return BaudRate250K, nil
	case 125:
		return BaudRate125K, nil
	case 100:
		return BaudRate100K, nil
	case 50:
		return BaudRate50K, nil
	case 20:
		return BaudRate20K, nil
	case 10:
		return BaudRate10K, nil
	default:
		return BaudRateNone, fmt.Errorf("sja1000: unsupported baud rate %dkbps", kbps)
	}
}

func (b BaudRate) registers() (btr0, btr1 uint8) {
	return busTiming0[b], busTiming1[b]
}

func (b BaudRate) String() string {
	switch b {
	case BaudRate1M:
		return "1000kbps"
	case BaudRate800K:
		return "800kbps"
	case BaudRate500K:
		return "500kbps"
	case BaudRate250K:
		return "250kbps"
	case BaudRate125K:
		return "125kbps"
	case BaudRate100K:
		return "100kbps"
	case BaudRate50K:
		return "50kbps"
	case BaudRate20K:
		return "20kbps"
	case BaudRate10K:
		return "10kbps"
	default:
		return "none"
	}
}
