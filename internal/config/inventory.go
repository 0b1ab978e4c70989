package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Inventory maps managed containers, VMs and hypervisor nodes to the host
// address they are reached on.
type Inventory struct {
	Containers   map[string]string `yaml:"containers"`
	VMs          map[string]string `yaml:"vms"`
	ProxmoxNodes map[string]string `yaml:"proxmox_nodes"`
}

// LoadInventory reads a YAML inventory. An empty path yields the built-in
// inventory.
func LoadInventory(path string) (*Inventory, error) {
	if path == "" {
		return DefaultInventory(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	var inv Inventory
	if err := yaml.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	if inv.Containers == nil {
		inv.Containers = map[string]string{}
	}
	if inv.VMs == nil {
		inv.VMs = map[string]string{}
	}
	if inv.ProxmoxNodes == nil {
		inv.ProxmoxNodes = map[string]string{}
	}
	return &inv, nil
}

// HostFor returns the host running container.
func (i *Inventory) HostFor(container string) (string, bool) {
	host, ok := i.Containers[container]
	return host, ok
}

// ContainersByHost groups container names by host, each group sorted.
func (i *Inventory) ContainersByHost() map[string][]string {
	out := make(map[string][]string)
	for name, host := range i.Containers {
		out[host] = append(out[host], name)
	}
	for host := range out {
		sort.Strings(out[host])
	}
	return out
}

// VMNames returns VM names in sorted order.
func (i *Inventory) VMNames() []string {
	names := make([]string, 0, len(i.VMs))
	for name := range i.VMs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func DefaultInventory() *Inventory {
	return &Inventory{
		Containers: map[string]string{
			"grafana":           "192.168.40.13",
			"prometheus":        "192.168.40.13",
			"uptime-kuma":       "192.168.40.13",
			"speedtest-tracker": "192.168.40.13",
			"n8n":               "192.168.40.13",
			"sentinel-bot":      "192.168.40.13",
			"jellyfin":          "192.168.40.11",
			"radarr":            "192.168.40.11",
			"sonarr":            "192.168.40.11",
			"prowlarr":          "192.168.40.11",
			"bazarr":            "192.168.40.11",
			"jellyseerr":        "192.168.40.11",
			"deluge":            "192.168.40.11",
			"sabnzbd":           "192.168.40.11",
			"glance":            "192.168.40.12",
			"traefik":           "192.168.40.20",
			"authentik-server":  "192.168.40.21",
			"authentik-worker":  "192.168.40.21",
			"immich-server":     "192.168.40.22",
			"gitlab":            "192.168.40.23",
		},
		VMs: map[string]string{
			"docker-utilities": "192.168.40.13",
			"docker-media":     "192.168.40.11",
			"traefik":          "192.168.40.20",
			"authentik":        "192.168.40.21",
			"immich":           "192.168.40.22",
			"gitlab":           "192.168.40.23",
		},
		ProxmoxNodes: map[string]string{
			"node01": "192.168.20.20",
			"node02": "192.168.20.21",
		},
	}
}
