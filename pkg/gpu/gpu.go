// Package gpu discovers the host's NVIDIA devices via nvidia-smi. Discovery
// is best-effort: machines without nvidia-smi report ErrNoNvidiaSMI and the
// caller decides whether that is fatal.
package gpu

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoNvidiaSMI means nvidia-smi is not installed or not on PATH.
var ErrNoNvidiaSMI = errors.New("nvidia-smi not available")

// Device describes one accelerator as reported by nvidia-smi.
type Device struct {
	Index    int
	Name     string
	MemoryMB int
}

// Detect lists the host's GPUs.
func Detect() ([]Device, error) {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return nil, ErrNoNvidiaSMI
	}

	// nvidia-smi --query-gpu=index,name,memory.total --format=csv,noheader,nounits
	cmd := exec.Command("nvidia-smi",
		"--query-gpu=index,name,memory.total",
		"--format=csv,noheader,nounits")

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w", err)
	}

	return parseList(out.String())
}

// parseList parses csv,noheader,nounits output, one device per line:
// "0, NVIDIA A100-SXM4-40GB, 40960"
func parseList(raw string) ([]Device, error) {
	var devices []Device

	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			return nil, fmt.Errorf("invalid nvidia-smi line: %s", line)
		}

		idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid device index in line: %s", line)
		}
		mem, _ := strconv.Atoi(strings.TrimSpace(fields[2]))

		devices = append(devices, Device{
			Index:    idx,
			Name:     strings.TrimSpace(fields[1]),
			MemoryMB: mem,
		})
	}

	return devices, nil
}

// Has reports whether index is one of the detected devices.
func Has(devices []Device, index int) bool {
	for _, d := range devices {
		if d.Index == index {
			return true
		}
	}
	return false
}
