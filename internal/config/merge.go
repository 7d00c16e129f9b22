package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cybershell/backy/internal/errors"
	"gopkg.in/yaml.v3"
)

// listsFileKey is the reserved key under cmd-lists naming an external lists file.
const listsFileKey = "file"

// merger decodes entity sections from one or more YAML documents into a
// Config, rejecting identifiers declared more than once.
type merger struct {
	files  map[string]bool
	origin map[string]string // "<section>/<id>" -> file that declared it
}

func newMerger() *merger {
	return &merger{
		files:  make(map[string]bool),
		origin: make(map[string]string),
	}
}

func (m *merger) seen(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return m.files[abs]
}

func (m *merger) markSeen(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m.files[abs] = true
}

// loadDocument decodes every entity section found in root.
func (m *merger) loadDocument(cfg *Config, root *yaml.Node, path string) error {
	m.markSeen(path)
	for _, section := range []string{"commands", "hosts", "cmd-lists", "notifications"} {
		node := findMapValue(root, section)
		if node == nil {
			continue
		}
		if err := m.decodeSection(cfg, section, node, path); err != nil {
			return err
		}
	}
	return nil
}

// loadFile merges a sibling file holding a single section. The section may
// be nested under its key or be the whole document.
func (m *merger) loadFile(cfg *Config, path, section string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read "+path,
			"Check the file exists and is readable")
	}
	root, err := parseDocument(data, path)
	if err != nil {
		return err
	}
	m.markSeen(path)

	node := findMapValue(root, section)
	if node == nil {
		node = root
	}
	return m.decodeSection(cfg, section, node, path)
}

func (m *merger) decodeSection(cfg *Config, section string, node *yaml.Node, path string) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' in %s must be a mapping", section, filepath.Base(path)),
			"Use name: {...} entries")
	}

	if section == "notifications" {
		return m.decodeNotifications(cfg, node, path)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		if section == "cmd-lists" && key == listsFileKey && val.Kind == yaml.ScalarNode {
			continue
		}
		if err := m.claim(section, key, path); err != nil {
			return err
		}

		var err error
		switch section {
		case "commands":
			c := &Command{}
			err = val.Decode(c)
			cfg.Commands[key] = c
		case "hosts":
			h := &Host{}
			err = val.Decode(h)
			cfg.Hosts[key] = h
		case "cmd-lists":
			l := &CommandList{}
			err = val.Decode(l)
			cfg.Lists[key] = l
		}
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Invalid %s entry '%s' in %s", section, key, filepath.Base(path)),
				fmt.Sprintf("Check the fields of %s.%s (line %d)", section, key, val.Line))
		}
	}
	return nil
}

func (m *merger) decodeNotifications(cfg *Config, node *yaml.Node, path string) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		service, targets := node.Content[i].Value, node.Content[i+1]
		if targets.Kind != yaml.MappingNode {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("notifications.%s in %s must be a mapping of id to settings", service, filepath.Base(path)),
				"Example: notifications: {mail: {ops: {host: smtp.example.com, ...}}}")
		}
		for j := 0; j+1 < len(targets.Content); j += 2 {
			id, val := targets.Content[j].Value, targets.Content[j+1]
			key := service + "." + id
			if err := m.claim("notifications", key, path); err != nil {
				return err
			}

			var err error
			switch service {
			case "mail":
				t := &MailTarget{}
				err = val.Decode(t)
				if cfg.Notifications.Mail == nil {
					cfg.Notifications.Mail = make(map[string]*MailTarget)
				}
				cfg.Notifications.Mail[id] = t
			case "matrix":
				t := &MatrixTarget{}
				err = val.Decode(t)
				if cfg.Notifications.Matrix == nil {
					cfg.Notifications.Matrix = make(map[string]*MatrixTarget)
				}
				cfg.Notifications.Matrix[id] = t
			case "kafka":
				t := &KafkaTarget{}
				err = val.Decode(t)
				if cfg.Notifications.Kafka == nil {
					cfg.Notifications.Kafka = make(map[string]*KafkaTarget)
				}
				cfg.Notifications.Kafka[id] = t
			default:
				return errors.New(errors.ErrConfig,
					fmt.Sprintf("Unknown notification service '%s' in %s", service, filepath.Base(path)),
					"Supported services: mail, matrix, kafka")
			}
			if err != nil {
				return errors.WrapWithCode(err, errors.ErrConfig,
					fmt.Sprintf("Invalid notification target '%s'", key),
					fmt.Sprintf("Check notifications.%s.%s (line %d)", service, id, val.Line))
			}
		}
	}
	return nil
}

func (m *merger) claim(section, id, path string) error {
	k := section + "/" + id
	if prev, ok := m.origin[k]; ok {
		where := filepath.Base(prev)
		if prev != path {
			where = filepath.Base(prev) + " and " + filepath.Base(path)
		}
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s '%s' is declared more than once (%s)", singular(section), id, where),
			"Identifiers must be unique across backy.yml, hosts.yml and lists.yml")
	}
	m.origin[k] = path
	return nil
}

func singular(section string) string {
	switch section {
	case "commands":
		return "command"
	case "hosts":
		return "host"
	case "cmd-lists":
		return "command list"
	case "notifications":
		return "notification target"
	}
	return section
}

// findMapValue finds the value node for a key in a mapping node.
func findMapValue(mapNode *yaml.Node, key string) *yaml.Node {
	if mapNode == nil || mapNode.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			return mapNode.Content[i+1]
		}
	}
	return nil
}
