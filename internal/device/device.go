// Package device decides where inference runs and describes the host.
package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the class of device a model is placed on.
type Kind int

const (
	CPU Kind = iota
	Accelerator
)

func (k Kind) String() string {
	if k == Accelerator {
		return "accelerator"
	}
	return "cpu"
}

// Config is the resolved placement for one model.
type Config struct {
	Kind Kind
	// Replicas is how many devices hold a copy of the model. A forward call
	// splits its batch across them. Always at least 1.
	Replicas int
	// Ordinal pins a single accelerator when the request named one ("cuda:1"), otherwise -1.
	Ordinal int
}

// IsAccelerator reports whether the config targets an accelerator.
func (c Config) IsAccelerator() bool { return c.Kind == Accelerator }

func (c Config) String() string {
	switch {
	case c.Kind == CPU:
		return "cpu"
	case c.Ordinal >= 0:
		return fmt.Sprintf("accelerator:%d", c.Ordinal)
	case c.Replicas > 1:
		return fmt.Sprintf("accelerator x%d", c.Replicas)
	default:
		return "accelerator"
	}
}

// CPUConfig is the placement every unusable request degrades to.
var CPUConfig = Config{Kind: CPU, Replicas: 1, Ordinal: -1}

// SelectDevice maps a requested device name and the number of usable
// accelerators to a placement. "cuda", "gpu" and "webgpu" select every
// available accelerator; "cuda:N" pins accelerator N. Anything else,
// including an accelerator request with none available, yields CPU.
// It never fails.
func SelectDevice(requested string, available int) Config {
	name := strings.ToLower(strings.TrimSpace(requested))
	if available <= 0 {
		return CPUConfig
	}

	switch name {
	case "cuda", "gpu", "webgpu":
		return Config{Kind: Accelerator, Replicas: available, Ordinal: -1}
	}

	for _, prefix := range []string{"cuda:", "gpu:"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			ordinal, err := strconv.Atoi(rest)
			if err != nil || ordinal < 0 || ordinal >= available {
				return CPUConfig
			}
			return Config{Kind: Accelerator, Replicas: 1, Ordinal: ordinal}
		}
	}

	return CPUConfig
}

// Inventory reports how many accelerators are usable on this host.
type Inventory interface {
	AcceleratorCount() int
}

// Static is an Inventory with a fixed accelerator count.
type Static int

// AcceleratorCount implements Inventory.
func (s Static) AcceleratorCount() int { return int(s) }

// SystemInventory probes the host for accelerators once per process.
// Limit caps the reported count; a negative Limit means no cap.
type SystemInventory struct {
	Limit int
}

// AcceleratorCount implements Inventory.
func (s SystemInventory) AcceleratorCount() int {
	n := probeAccelerators()
	if s.Limit >= 0 && n > s.Limit {
		n = s.Limit
	}
	return n
}
