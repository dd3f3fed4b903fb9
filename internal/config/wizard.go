package config

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Legate Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// API Keys
	fmt.Println("API Keys (leave both empty to rely on ANTHROPIC_API_KEY / OPENAI_API_KEY):")
	fmt.Println()

	// Anthropic API Key
	for {
		fmt.Print("Anthropic API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			break
		}

		if err := validator.ValidateAPIKey(key, "anthropic"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       "anthropic-default",
			Provider: "anthropic",
			APIKey:   key,
			Priority: 1,
		})
		break
	}

	// OpenAI API Key
	for {
		fmt.Print("OpenAI API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			break
		}

		if err := validator.ValidateAPIKey(key, "openai"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       "openai-default",
			Provider: "openai",
			APIKey:   key,
			Priority: 2,
		})
		break
	}

	if len(cfg.AI.Profiles) == 0 {
		fmt.Println()
		fmt.Println("No credential profiles configured. Legate will start in fallback")
		fmt.Println("mode and use API keys from the environment when available.")
	}

	fmt.Println()

	// Default Model
	fmt.Println("Model:")
	fmt.Print("Model name (press Enter to keep the built-in default): ")
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if model != "" {
		if err := validator.ValidateModel(model); err != nil {
			fmt.Printf("Warning: %v, keeping default\n", err)
		} else {
			cfg.Agent.Model = model
		}
	}

	fmt.Println()

	// Gateway port
	fmt.Println("Gateway:")
	fmt.Printf("Port [%d]: ", cfg.Server.Port)
	portLine, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if portLine != "" {
		port, err := strconv.Atoi(portLine)
		if err != nil {
			fmt.Printf("Warning: invalid port %q, using default (%d)\n", portLine, cfg.Server.Port)
		} else if err := validator.ValidatePort(port); err != nil {
			fmt.Printf("Warning: %v, using default (%d)\n", err, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Clients authenticate against this secret, so the daemon refuses to
	// start without one.
	fmt.Print("Shared secret (press Enter to generate one): ")
	secret, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if secret == "" {
		secret, err = generateSharedSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate shared secret: %w", err)
		}
		fmt.Printf("Generated shared secret: %s\n", secret)
	}
	cfg.Server.SharedSecret = secret

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// generateSharedSecret returns a random 32-byte hex secret for gateway
// authentication.
func generateSharedSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
