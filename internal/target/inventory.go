package target

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Inventory is a YAML host list. Entries carry per-host connection settings
// that override whatever the command line supplies:
//
//	hosts:
//	  - host: web-01.dc1
//	    user: deploy
//	    key: /etc/dcadm/keys/deploy
//	  - host: 10.0.3.0/28
//	    user: root
//	    password: hunter2
//	    timeout: 15s
type Inventory struct {
	Hosts []InventoryHost `yaml:"hosts"`
}

// InventoryHost is one inventory entry. Host accepts every expression form
// Resolve understands, so an entry may expand to many targets.
type InventoryHost struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Key        string `yaml:"key"`
	Passphrase string `yaml:"passphrase"`
	Timeout    string `yaml:"timeout"`
}

// LoadInventory reads and parses an inventory file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}
	return &inv, nil
}

// Targets resolves every inventory entry. Fields an entry leaves unset fall
// back to opts.
func (inv *Inventory) Targets(opts Options) ([]Target, error) {
	var all []Target
	for i, h := range inv.Hosts {
		entryOpts := opts
		if h.User != "" {
			entryOpts.User = h.User
		}
		if h.Password != "" {
			entryOpts.Password = h.Password
		}
		if h.Key != "" {
			entryOpts.KeyPath = h.Key
		}
		if h.Passphrase != "" {
			entryOpts.Passphrase = h.Passphrase
		}
		if h.Port != 0 {
			entryOpts.Port = h.Port
		}
		if h.Timeout != "" {
			d, err := time.ParseDuration(h.Timeout)
			if err != nil {
				return nil, fmt.Errorf("inventory host %d: invalid timeout %q", i+1, h.Timeout)
			}
			entryOpts.Timeout = d
		}

		expanded, err := resolveExpr(h.Host, entryOpts)
		if err != nil {
			return nil, fmt.Errorf("inventory host %d: %w", i+1, err)
		}
		all = append(all, expanded...)
	}
	return dedupe(all)
}

// ResolveAll combines command-line expressions with an optional inventory
// file into one deduplicated target list. Command-line targets come first.
func ResolveAll(raw []string, inventoryPath string, opts Options) ([]Target, error) {
	fromArgs, err := Resolve(raw, opts)
	if err != nil {
		return nil, err
	}
	if inventoryPath == "" {
		return fromArgs, nil
	}

	inv, err := LoadInventory(inventoryPath)
	if err != nil {
		return nil, err
	}
	fromInv, err := inv.Targets(opts)
	if err != nil {
		return nil, err
	}
	return dedupe(append(fromArgs, fromInv...))
}
