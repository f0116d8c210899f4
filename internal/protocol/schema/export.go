package schema

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type yamlAttribute struct {
	Order      uint32  `yaml:"order"`
	Name       string  `yaml:"name,omitempty"`
	Tag        uint16  `yaml:"tag"`
	Kind       string  `yaml:"kind"`
	StructSize uint32  `yaml:"struct_size"`
	ArraySize  *uint32 `yaml:"array_size,omitempty"`
	Variable   bool    `yaml:"variable,omitempty"`
	Optional   bool    `yaml:"optional,omitempty"`
	SinceMinor uint32  `yaml:"since_minor,omitempty"`
}

type yamlEntry struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Attributes []yamlAttribute `yaml:"attributes"`
}

type yamlRegistry struct {
	Registry string      `yaml:"registry"`
	Messages []yamlEntry `yaml:"messages"`
}

// MarshalYAML renders the registry in ascending id order.
func (r *Registry) MarshalYAML() (any, error) {
	out := yamlRegistry{Registry: r.name, Messages: make([]yamlEntry, 0, len(r.ids))}
	for _, id := range r.ids {
		e := r.entries[id]
		ye := yamlEntry{
			ID:         fmt.Sprintf("0x%04x", e.MessageID),
			Name:       e.Name,
			Attributes: make([]yamlAttribute, 0, len(e.Attributes)),
		}
		for _, a := range e.Attributes {
			ya := yamlAttribute{
				Order:      a.Order,
				Name:       a.Name,
				Tag:        a.TagID,
				Kind:       a.Kind().String(),
				StructSize: a.StructSize,
				Variable:   a.Variable,
				Optional:   a.Optional,
				SinceMinor: a.SinceMinor,
			}
			if n, ok := a.FixedArraySize(); ok {
				ya.ArraySize = &n
			}
			ye.Attributes = append(ye.Attributes, ya)
		}
		out.Messages = append(out.Messages, ye)
	}
	return out, nil
}

// ExportYAML writes the registry as a YAML document.
func ExportYAML(w io.Writer, r *Registry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
