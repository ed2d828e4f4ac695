package socket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var ErrNoHardwareTimestamps = errors.New("interface lacks hardware timestamping")

const hardwareTimestamping = unix.SOF_TIMESTAMPING_TX_HARDWARE | unix.SOF_TIMESTAMPING_RX_HARDWARE

var timestampingModes = []struct {
	flag uint32
	name string
}{
	{unix.SOF_TIMESTAMPING_TX_HARDWARE, "tx-hardware"},
	{unix.SOF_TIMESTAMPING_RX_HARDWARE, "rx-hardware"},
	{unix.SOF_TIMESTAMPING_RAW_HARDWARE, "raw-hardware"},
	{unix.SOF_TIMESTAMPING_TX_SOFTWARE, "tx-software"},
	{unix.SOF_TIMESTAMPING_RX_SOFTWARE, "rx-software"},
	{unix.SOF_TIMESTAMPING_SOFTWARE, "software"},
}

// TimestampingModes names the modes set in an ethtool so_timestamping mask.
func TimestampingModes(mask uint32) []string {
	var out []string
	for _, m := range timestampingModes {
		if mask&m.flag != 0 {
			out = append(out, m.name)
		}
	}
	return out
}

// CheckTimestamping reports what the adapter can stamp. Missing hardware
// support is an error when hw is set and a warning otherwise.
func CheckTimestamping(info *unix.EthtoolTsInfo, ifname string, hw bool, log logrus.FieldLogger) error {
	log.Debugf("timestamping on %s: so_timestamping=%#x phc_index=%d modes=[%s]",
		ifname, info.So_timestamping, info.Phc_index, strings.Join(TimestampingModes(info.So_timestamping), " "))

	if info.So_timestamping&hardwareTimestamping == hardwareTimestamping {
		return nil
	}
	if hw {
		return fmt.Errorf("%w: %s%s", ErrNoHardwareTimestamps, ifname, ethtoolSuggestion)
	}
	log.Warnf("%s does not support hardware tx/rx timestamping, only software timestamps will be recorded", ifname)
	return nil
}

func queryTimestamping(fd int, ifname string, hw bool, log logrus.FieldLogger) error {
	info, err := unix.IoctlGetEthtoolTsInfo(fd, ifname)
	if err != nil {
		if hw {
			return fmt.Errorf("ioctl ETHTOOL_GET_TS_INFO %s: %w%s", ifname, err, ethtoolSuggestion)
		}
		log.Warnf("cannot query timestamping capabilities of %s: %v", ifname, err)
		return nil
	}
	return CheckTimestamping(info, ifname, hw, log)
}
