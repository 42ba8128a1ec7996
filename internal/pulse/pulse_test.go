package pulse

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestFindMatchesByIDAndDescription(t *testing.T) {
	devices := []Device{
		{ID: "alsa_input.pci-0000_00_1f.3.analog-stereo", Description: "Built-in Audio"},
		{ID: "alsa_input.usb-tv_capture", Description: "HDMI TV Capture"},
	}

	dev, ok := Find(devices, "tv_capture")
	require.True(t, ok)
	require.Equal(t, "alsa_input.usb-tv_capture", dev.ID)

	dev, ok = Find(devices, "built-in")
	require.True(t, ok)
	require.Equal(t, "alsa_input.pci-0000_00_1f.3.analog-stereo", dev.ID)

	_, ok = Find(devices, "missing")
	require.False(t, ok)

	_, ok = Find(devices, "   ")
	require.False(t, ok)
}

func TestDeviceMatchesIsCaseInsensitive(t *testing.T) {
	dev := Device{ID: "bluez_sink.AA_BB", Description: "JBL Charge 5"}
	require.True(t, deviceMatches(dev, "jbl"))
	require.True(t, deviceMatches(dev, "bluez_sink"))
	require.False(t, deviceMatches(dev, "sony"))
}

func TestListSourcesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListSources(context.Background())
	require.Error(t, err)
}

func TestListSinksFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListSinks(context.Background())
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "running", stateString(0))
	require.Equal(t, "idle", stateString(1))
	require.Equal(t, "suspended", stateString(2))
	require.Equal(t, "unknown(7)", stateString(7))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{})) // no ports => available

	available := &pulseproto.GetSourceInfoReply{ActivePortName: "hdmi"}
	setPorts(t, &available.Ports, []devicePort{{name: "hdmi", available: 2}})
	require.True(t, sourceAvailable(available))

	notAvailable := &pulseproto.GetSourceInfoReply{ActivePortName: "hdmi"}
	setPorts(t, &notAvailable.Ports, []devicePort{{name: "hdmi", available: 1}})
	require.False(t, sourceAvailable(notAvailable))
}

func TestSinkAvailable(t *testing.T) {
	require.False(t, sinkAvailable(nil))
	require.True(t, sinkAvailable(&pulseproto.GetSinkInfoReply{}))

	available := &pulseproto.GetSinkInfoReply{ActivePortName: "speaker"}
	setPorts(t, &available.Ports, []devicePort{{name: "speaker", available: 0}})
	require.True(t, sinkAvailable(available))

	notAvailable := &pulseproto.GetSinkInfoReply{ActivePortName: "speaker"}
	setPorts(t, &notAvailable.Ports, []devicePort{{name: "speaker", available: 1}})
	require.False(t, sinkAvailable(notAvailable))
}

type devicePort struct {
	name      string
	available uint32
}

// setPorts fills a reply's anonymous Ports slice via reflection.
func setPorts(t *testing.T, ports any, want []devicePort) {
	t.Helper()

	target := reflect.ValueOf(ports).Elem()
	sliceValue := reflect.MakeSlice(target.Type(), len(want), len(want))

	for i, port := range want {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	target.Set(sliceValue)
}
