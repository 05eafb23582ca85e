package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InstrumentsFile представляет структуру YAML файла инвентаря приборов
type InstrumentsFile struct {
	Instruments []InstrumentConfig `yaml:"instruments"`
}

// InstrumentConfig описывает один прибор и его драйвер
type InstrumentConfig struct {
	ID       string   `yaml:"id"`
	Driver   string   `yaml:"driver"` // sim, http, serial, opcua
	Channels []string `yaml:"channels"`

	Sim    map[string]SimChannelConfig `yaml:"sim,omitempty"`
	HTTP   HTTPDriverConfig            `yaml:"http,omitempty"`
	Serial SerialDriverConfig          `yaml:"serial,omitempty"`
	OPCUA  OPCUADriverConfig           `yaml:"opcua,omitempty"`
}

// SimChannelConfig задаёт параметры генерируемого сигнала канала
type SimChannelConfig struct {
	Frequency float64 `yaml:"frequency"`
	Amplitude float64 `yaml:"amplitude"`
	Offset    float64 `yaml:"offset"`
	Noise     float64 `yaml:"noise"`
}

type HTTPDriverConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SerialDriverConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type OPCUADriverConfig struct {
	Endpoint        string            `yaml:"endpoint"`
	PublishInterval time.Duration     `yaml:"publish_interval"`
	Nodes           map[string]string `yaml:"nodes"` // channel id -> node id
}

// LoadInstrumentsFromYAML загружает инвентарь приборов из YAML файла
func LoadInstrumentsFromYAML(path string) ([]InstrumentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instruments file: %w", err)
	}

	var file InstrumentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Валидация: id уникален, драйвер известен, каналы заданы
	seen := make(map[string]bool)
	for i, inst := range file.Instruments {
		if inst.ID == "" {
			return nil, fmt.Errorf("instrument at index %d has no id", i)
		}
		if seen[inst.ID] {
			return nil, fmt.Errorf("duplicate instrument id %q", inst.ID)
		}
		seen[inst.ID] = true

		switch inst.Driver {
		case "sim", "http", "serial", "opcua":
		default:
			return nil, fmt.Errorf("instrument %q has unknown driver %q", inst.ID, inst.Driver)
		}

		if len(inst.Channels) == 0 {
			return nil, fmt.Errorf("instrument %q has no channels", inst.ID)
		}
	}

	return file.Instruments, nil
}
