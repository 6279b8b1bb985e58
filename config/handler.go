package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
)

// Handler reads and writes the yaml configuration file.
type Handler struct {
	p  string
	mu sync.Mutex
}

func NewHandler(path string) *Handler {
	return &Handler{p: path}
}

func (c *Handler) Path() string {
	return c.p
}

func (c *Handler) GetRaw() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := os.ReadFile(c.p)
	if os.IsNotExist(err) {
		log.Info().Str("file", c.p).Msg("configuration file does not exist, creating it with defaults")
		return c.createDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}

	return b, nil
}

func (c *Handler) Get() (*Root, error) {
	b, err := c.GetRaw()
	if err != nil {
		return nil, err
	}

	conf := &Root{}
	if err := yaml.Unmarshal(b, conf); err != nil {
		return nil, fmt.Errorf("error parsing configuration file: %w", err)
	}

	return AddDefaults(conf), nil
}

func (c *Handler) Save(r *Root) error {
	b, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("error encoding configuration: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(b)
}

func (c *Handler) createDefault() ([]byte, error) {
	b, err := yaml.Marshal(AddDefaults(&Root{}))
	if err != nil {
		return nil, fmt.Errorf("error encoding default configuration: %w", err)
	}

	if err := c.write(b); err != nil {
		return nil, err
	}

	return b, nil
}

func (c *Handler) write(b []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.p), 0744); err != nil {
		return fmt.Errorf("error creating configuration folder: %w", err)
	}

	if err := os.WriteFile(c.p, b, 0644); err != nil {
		return fmt.Errorf("error writing configuration file: %w", err)
	}

	return nil
}
