package mirror

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/twpayne/go-vfs"
	"gopkg.in/yaml.v3"
)

const HistoryFile = "deployments.yaml"

type Record struct {
	ID       string    `yaml:"id"`
	Dir      string    `yaml:"dir"`
	Drop     string    `yaml:"drop"`
	Time     time.Time `yaml:"time"`
	Versions []string  `yaml:"versions,omitempty"`
}

type History struct {
	Deployments []Record `yaml:"deployments"`
}

// LoadHistory reads the history file at path. A missing file is an empty history.
func LoadHistory(fs vfs.FS, path string) (*History, error) {
	bs, err := fs.ReadFile(path)
	if os.IsNotExist(err) {
		return &History{}, nil
	}
	if err != nil {
		return nil, err
	}

	var h History
	if err := yaml.Unmarshal(bs, &h); err != nil {
		return nil, fmt.Errorf("unmarshalling %s: %w", path, err)
	}
	return &h, nil
}

func (h *History) Marshal() (string, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(h); err != nil {
		return "", fmt.Errorf("encoding history: %w", err)
	}

	return buf.String(), nil
}

func (h *History) Save(fs vfs.FS, path string) error {
	out, err := h.Marshal()
	if err != nil {
		return err
	}
	return fs.WriteFile(path, []byte(out), 0644)
}

func (h *History) Add(r Record) {
	h.Deployments = append(h.Deployments, r)
}

// Retain drops the records whose directory is not in dirs.
func (h *History) Retain(dirs []string) {
	keep := map[string]bool{}
	for _, d := range dirs {
		keep[d] = true
	}
	var res []Record
	for _, r := range h.Deployments {
		if keep[r.Dir] {
			res = append(res, r)
		}
	}
	h.Deployments = res
}
