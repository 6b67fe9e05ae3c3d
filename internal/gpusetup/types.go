// Package gpusetup implements the GPU-setup controller: the state machine
// that drives a node agent through detecting, queuing, delivering, and
// acknowledging the work needed to make a node's GPUs usable.
package gpusetup

import "github.com/orchcore/orchd/internal/node"

// gpuProjection is the per-GPU slice of ConfigureGpuPayload; it deliberately
// excludes fields the agent does not need to decide how to act (setup
// status, container-sharing readiness).
type gpuProjection struct {
	Vendor         string `json:"vendor"`
	Model          string `json:"model"`
	PciAddress     string `json:"pciAddress"`
	MemoryBytes    int64  `json:"memoryBytes"`
	IsIommuEnabled bool   `json:"isIommuEnabled"`
}

// ConfigureGpuPayload is the command.NodeCommand payload for TypeConfigureGpu.
type ConfigureGpuPayload struct {
	Mode              node.GpuSetupMode `json:"mode"`
	Gpus              []gpuProjection   `json:"gpus"`
	ContainerRuntimes []string          `json:"containerRuntimes"`
}

func newPayload(mode node.GpuSetupMode, gpus []node.GPU, runtimes []string) ConfigureGpuPayload {
	projected := make([]gpuProjection, len(gpus))
	for i, g := range gpus {
		projected[i] = gpuProjection{
			Vendor:         g.Vendor,
			Model:          g.Model,
			PciAddress:     g.PciAddress,
			MemoryBytes:    g.MemoryBytes,
			IsIommuEnabled: g.IsIommuEnabled,
		}
	}
	return ConfigureGpuPayload{Mode: mode, Gpus: projected, ContainerRuntimes: runtimes}
}

// ConfigureGpuAck is the agent-reported outcome of a ConfigureGpuPayload,
// carried as command.Acknowledgment.Data.
type ConfigureGpuAck struct {
	RebootRequired        bool   `json:"rebootRequired"`
	ContainerSharingReady bool   `json:"containerSharingReady"`
	VfioPassthroughReady  bool   `json:"vfioPassthroughReady"`
	IommuEnabled          bool   `json:"iommuEnabled"`
	DriverVersion         string `json:"driverVersion,omitempty"`
}
