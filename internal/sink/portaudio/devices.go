// SPDX-License-Identifier: MIT

package portaudio

import (
	"fmt"

	pa "github.com/gordonklaus/portaudio"
)

// DeviceInfo describes one output-capable audio device.
type DeviceInfo struct {
	Name              string
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefault         bool
}

// ListOutputDevices enumerates the host's output-capable devices.
func ListOutputDevices() ([]DeviceInfo, error) {
	if err := initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultOutputDevice()

	var out []DeviceInfo
	for _, d := range devices {
		if d.MaxOutputChannels <= 0 {
			continue
		}
		out = append(out, DeviceInfo{
			Name:              d.Name,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}
